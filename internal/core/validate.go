package core

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/dshills/koishi/internal/model"
	"github.com/dshills/koishi/internal/observe"
	"go.uber.org/zap"
)

const dateKey = "$date"

// validate runs the builtin checks and the command checks in order.
// It returns the reply and false when the command is blocked.
func (app *App) validate(ctx context.Context, a *Argv) (string, bool) {
	s, cmd := a.Session, a.Command
	cfg := cmd.Config()

	if cfg.CheckUnknown && len(a.Unknown) > 0 {
		return app.Text(MsgUnknownOption, strings.Join(a.Unknown, ", ")), false
	}
	if cfg.CheckArgCount {
		if msg := app.checkArgCount(a); msg != "" {
			return msg, false
		}
	}

	userFields, channelFields := cmd.requiredFields()
	user, err := s.ObserveUser(ctx, userFields...)
	if err != nil {
		app.logger.Error("load user for command", zap.String("command", cmd.name), zap.Error(err))
		return app.Text(MsgInternalError), false
	}
	if len(channelFields) > 0 && !s.Private() {
		if _, err := s.ObserveChannel(ctx, channelFields...); err != nil {
			app.logger.Error("load channel for command", zap.String("command", cmd.name), zap.Error(err))
			return app.Text(MsgInternalError), false
		}
	}

	authority := user.Int(model.FieldAuthority)
	for _, c := range cmd.ancestry() {
		if c.Config().Authority > authority {
			return app.Text(MsgLowAuthority), false
		}
	}
	for _, opt := range cmd.schema.Options() {
		v, ok := a.Options[opt.Name]
		if !ok || opt.Authority <= authority || reflect.DeepEqual(v, opt.Fallback) {
			continue
		}
		return app.Text(MsgLowAuthority), false
	}

	now := app.clock.Now()
	usageName := cfg.UsageName
	if usageName == "" {
		usageName = cmd.name
	}
	if cfg.MaxUsage > 0 {
		usage := usageMap(user)
		today := dayNumber(now, app.opts.Location)
		if resetUsage(usage, today) {
			user.Touch(model.FieldUsage)
		}
		if usage[usageName] >= cfg.MaxUsage {
			return app.Text(MsgUsageExhausted), false
		}
		usage[usageName]++
		user.Touch(model.FieldUsage)
	}
	if cfg.MinInterval > 0 {
		timers := timerMap(user)
		if !checkTimer(timers, usageName, now, cfg.MinInterval) {
			user.Touch(model.FieldTimers)
			return app.Text(MsgTooFrequent), false
		}
		user.Touch(model.FieldTimers)
	}

	cmd.mu.RLock()
	checks := append([]Check(nil), cmd.checks...)
	cmd.mu.RUnlock()
	for _, check := range checks {
		if msg := check(ctx, a); msg != "" {
			return msg, false
		}
	}
	return "", true
}

func (app *App) checkArgCount(a *Argv) string {
	decls := a.Command.schema.Args()
	required := 0
	for _, d := range decls {
		if d.Required {
			required++
		}
	}
	if len(a.Args) < required {
		return app.Text(MsgInsufficientArguments)
	}
	if n := len(decls); (n == 0 || !decls[n-1].Variadic) && len(a.Args) > n {
		return app.Text(MsgRedundantArguments)
	}
	return ""
}

// dayNumber counts days since the epoch in loc.
func dayNumber(t time.Time, loc *time.Location) int {
	y, m, d := t.In(loc).Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func usageMap(user *observe.Record) map[string]int {
	m, ok := user.Get(model.FieldUsage).(map[string]int)
	if !ok || m == nil {
		m = make(map[string]int)
		user.Set(model.FieldUsage, m)
	}
	return m
}

func timerMap(user *observe.Record) map[string]int64 {
	m, ok := user.Get(model.FieldTimers).(map[string]int64)
	if !ok || m == nil {
		m = make(map[string]int64)
		user.Set(model.FieldTimers, m)
	}
	return m
}

// resetUsage clears the counters when the stored day is not today.
func resetUsage(usage map[string]int, today int) bool {
	if usage[dateKey] == today {
		return false
	}
	clear(usage)
	usage[dateKey] = today
	return true
}

// checkTimer reports whether name may run at now and, if so, blocks it
// for interval. Expired timers are swept at most once a day.
func checkTimer(timers map[string]int64, name string, now time.Time, interval time.Duration) bool {
	ms := now.UnixMilli()
	if ms > timers[dateKey] {
		for k, until := range timers {
			if k != dateKey && ms > until {
				delete(timers, k)
			}
		}
		timers[dateKey] = ms + int64(24*time.Hour/time.Millisecond)
	}
	if until, ok := timers[name]; ok && ms <= until {
		return false
	}
	timers[name] = ms + interval.Milliseconds()
	return true
}

// Usage returns how often name was used today by the session user.
func (s *Session) Usage(ctx context.Context, name string) (int, error) {
	user, err := s.ObserveUser(ctx, model.FieldUsage)
	if err != nil {
		return 0, err
	}
	usage := usageMap(user)
	if usage[dateKey] != dayNumber(s.app.clock.Now(), s.app.opts.Location) {
		return 0, nil
	}
	return usage[name], nil
}
