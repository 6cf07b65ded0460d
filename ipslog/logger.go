// Package ipslog provides context-scoped structured logging for the
// toolkit, built on logrus. The entry points of the repository, image,
// executor and publish packages that log take a context.Context and log
// through GetLogger(ctx); the manifest parser, which takes no context, logs
// its warnings through GetLogger(context.Background()).
package ipslog

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// Logger provides a leveled-logging interface.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})
	Println(args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatalln(args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugln(args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorln(args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infoln(args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnln(args ...interface{})
}

// WithLogger returns a new context with the provided logger attached.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLoggerWithField returns a logger with the given field set, without
// affecting ctx.
func GetLoggerWithField(ctx context.Context, key, value interface{}) Logger {
	return &entry{getLogrusEntry(ctx).WithField(fmt.Sprint(key), value)}
}

// GetLoggerWithFields returns a logger with the given fields set, without
// affecting ctx.
func GetLoggerWithFields(ctx context.Context, fields map[string]interface{}) Logger {
	return &entry{getLogrusEntry(ctx).WithFields(logrus.Fields(fields))}
}

// GetLogger returns the logger attached to ctx, or the standard logrus
// logger if none is attached.
func GetLogger(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return &entry{getLogrusEntry(ctx)}
}

func getLogrusEntry(ctx context.Context) *logrus.Entry {
	if v := ctx.Value(loggerKey{}); v != nil {
		if e, ok := v.(*entry); ok {
			return e.Entry
		}
		if e, ok := v.(*logrus.Entry); ok {
			return e
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

type entry struct {
	*logrus.Entry
}

func (e *entry) Print(args ...interface{})                 { e.Entry.Print(args...) }
func (e *entry) Printf(format string, args ...interface{}) { e.Entry.Printf(format, args...) }
func (e *entry) Println(args ...interface{})               { e.Entry.Println(args...) }
func (e *entry) Fatal(args ...interface{})                 { e.Entry.Fatal(args...) }
func (e *entry) Fatalf(format string, args ...interface{}) { e.Entry.Fatalf(format, args...) }
func (e *entry) Fatalln(args ...interface{})               { e.Entry.Fatalln(args...) }
func (e *entry) Debug(args ...interface{})                 { e.Entry.Debug(args...) }
func (e *entry) Debugf(format string, args ...interface{}) { e.Entry.Debugf(format, args...) }
func (e *entry) Debugln(args ...interface{})               { e.Entry.Debugln(args...) }
func (e *entry) Error(args ...interface{})                 { e.Entry.Error(args...) }
func (e *entry) Errorf(format string, args ...interface{}) { e.Entry.Errorf(format, args...) }
func (e *entry) Errorln(args ...interface{})               { e.Entry.Errorln(args...) }
func (e *entry) Info(args ...interface{})                  { e.Entry.Info(args...) }
func (e *entry) Infof(format string, args ...interface{})  { e.Entry.Infof(format, args...) }
func (e *entry) Infoln(args ...interface{})                { e.Entry.Infoln(args...) }
func (e *entry) Warn(args ...interface{})                  { e.Entry.Warn(args...) }
func (e *entry) Warnf(format string, args ...interface{})  { e.Entry.Warnf(format, args...) }
func (e *entry) Warnln(args ...interface{})                { e.Entry.Warnln(args...) }

var _ Logger = (*entry)(nil)
