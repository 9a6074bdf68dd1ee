// Package logger is the process-wide console and file logger. Messages are
// tagged with the component that emitted them and routed through logrus so
// they can go to the terminal, a rotating file, or both.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, format and destinations.
type Config struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	mu   sync.RWMutex
	base = newDefault()

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	return l
}

// Init reconfigures the shared logger. An unknown level falls back to info.
func Init(cfg Config) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(out)

	mu.Lock()
	base = l
	mu.Unlock()
}

// L returns the shared logger for injection into components.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetOutput redirects the shared logger, mostly for tests.
func SetOutput(w io.Writer) {
	L().SetOutput(w)
}

// SetLevel changes the verbosity of the shared logger.
func SetLevel(level logrus.Level) {
	L().SetLevel(level)
}

func tagged(tag string) *logrus.Entry {
	return L().WithField("component", tag)
}

func Debug(tag, msg string) { tagged(tag).Debug(msg) }

func Info(tag, msg string) { tagged(tag).Info(msg) }

// Success is an info-level message marking a completed step.
func Success(tag, msg string) { tagged(tag).WithField("status", "ok").Info(msg) }

func Warn(tag, msg string) { tagged(tag).Warn(msg) }

func Error(tag, msg string) { tagged(tag).Error(msg) }

// Banner prints the startup banner on stdout.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintln(os.Stdout, titleStyle.Render("crypto-risk")+" "+dimStyle.Render(version))
	fmt.Fprintln(os.Stdout, dimStyle.Render("portfolio risk metrics & mean-variance optimizer"))
}

// Section prints a titled separator.
func Section(title string) {
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, sectionStyle.Render("── "+title+" "+strings.Repeat("─", max(0, 40-len(title)))))
}

// Stats logs a single key/value figure.
func Stats(key string, val any) {
	L().WithField(key, val).Info(key)
}

// Server announces the HTTP listen address.
func Server(addr string) {
	tagged("HTTP").WithField("addr", addr).Info("listening on http://" + addr)
}
