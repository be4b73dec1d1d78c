package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestNewLogger_Defaults(t *testing.T) {
	v := viper.New()
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	logger, err := NewLogger(v)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "warn")
	v.Set("logging.format", "console")

	logger, err := NewLogger(v)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "banana")
	v.Set("logging.format", "json")

	if _, err := NewLogger(v); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "info")
	v.Set("logging.format", "xml")

	if _, err := NewLogger(v); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestViperConfig_Sub_missing_key_returns_empty(t *testing.T) {
	c := New(viper.New())
	sub := c.Sub("plugins.nope")
	if sub == nil {
		t.Fatal("Sub returned nil")
	}
	if sub.GetString("anything") != "" {
		t.Error("empty sub-config should return zero values")
	}
}

func TestViperConfig_typed_getters(t *testing.T) {
	v := viper.New()
	v.Set("a", "text")
	v.Set("b", 7)
	v.Set("c", true)
	v.Set("d", "90s")
	v.Set("e", 0.05)

	c := New(v)
	if c.GetString("a") != "text" {
		t.Errorf("GetString = %q", c.GetString("a"))
	}
	if c.GetInt("b") != 7 {
		t.Errorf("GetInt = %d", c.GetInt("b"))
	}
	if !c.GetBool("c") {
		t.Error("GetBool = false")
	}
	if c.GetDuration("d") != 90*time.Second {
		t.Errorf("GetDuration = %v", c.GetDuration("d"))
	}
	if c.GetFloat64("e") != 0.05 {
		t.Errorf("GetFloat64 = %v", c.GetFloat64("e"))
	}
	if !c.IsSet("a") || c.IsSet("zzz") {
		t.Error("IsSet misbehaving")
	}
}
