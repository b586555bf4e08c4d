// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
)

// Storage backend selectors.
const (
	BackendYaDisk = "yadisk"
	BackendS3     = "s3"
)

// Env holds the configuration values for the application.
type Env struct {
	BotToken     string
	Backend      string // yadisk | s3
	YaDiskToken  string
	YaDiskBase   string // root folder on the disk, e.g. disk:/
	S3Bucket     string
	Region       string
	JournalTable string // optional; empty disables the journal
	DateLayout   string
	LogLevel     string
}

// MustLoad reads the environment variables and returns an Env struct.
// Variables required by the selected backend panic when missing.
func MustLoad() Env {
	e := Env{
		BotToken:     must("BOT_TOKEN"),
		Backend:      get("STORAGE_BACKEND", BackendYaDisk),
		YaDiskBase:   get("YADISK_BASE", "disk:/"),
		Region:       get("AWS_REGION", "us-east-1"),
		JournalTable: os.Getenv("JOURNAL_TABLE"),
		DateLayout:   get("DATE_LAYOUT", "02.01.2006"),
		LogLevel:     get("LOG_LEVEL", "info"),
	}
	switch e.Backend {
	case BackendYaDisk:
		e.YaDiskToken = must("YADISK_TOKEN")
	case BackendS3:
		e.S3Bucket = must("S3_BUCKET")
	default:
		panic(fmt.Errorf("unknown STORAGE_BACKEND %q", e.Backend))
	}
	return e
}

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// must returns the value of the environment variable k or panics if not set.
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic(fmt.Errorf("missing env %s", k))
	}
	return v
}
