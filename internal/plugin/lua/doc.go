// Package lua runs bot plugins written in Lua.
//
// A script is a plugin whose global apply function receives a context
// object and the plugin configuration:
//
//	function apply(ctx, config)
//	  ctx:command("echo <text:text>", "Repeat text")
//	    :action(function(argv) return argv.args[1] end)
//
//	  ctx:guild("123"):middleware(function(session, next)
//	    if session.content == "ping" then return "pong" end
//	    return next()
//	  end)
//	end
//
// Each application of a script gets its own sandboxed state, closed
// when the plugin is disposed. The sandbox removes file loading, io, os
// and debug; require only resolves string, table and math. print
// writes to the plugin logger.
//
// Calls into a state are serialized. A call made while the same state
// is already running further up the stack (a Lua action sending a
// message that a Lua listener observes) is allowed to proceed.
package lua
