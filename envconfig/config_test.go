package envconfig

import (
	"log/slog"
	"testing"
	"time"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":        {"", "127.0.0.1:8765"},
		"only address": {"1.2.3.4", "1.2.3.4:8765"},
		"only port":    {":1234", ":1234"},
		"address+port": {"1.2.3.4:1234", "1.2.3.4:1234"},
		"hostname":     {"example.com", "example.com:8765"},
		"http scheme":  {"http://example.com", "example.com:80"},
		"https scheme": {"https://example.com", "example.com:443"},
		"bad port":     {"example.com:99999", "example.com:8765"},
		"ipv6":         {"[::1]:9000", "[::1]:9000"},
		"bad scheme":   {"ftp://example.com", "127.0.0.1:8765"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("PREDICTOR_HOST", tt.value)
			if host := Host(); host.Host != tt.expect {
				t.Errorf("Host: erwartet %s, bekommen %s", tt.expect, host.Host)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
		"trace": slog.Level(-8),
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"laut":  slog.LevelInfo,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("PREDICTOR_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("LogLevel(%q): erwartet %v, bekommen %v", k, v, i)
			}
		})
	}
}

func TestHostKeepsPath(t *testing.T) {
	t.Setenv("PREDICTOR_HOST", "https://models.internal/predictor/")
	u := Host()
	if got := u.String(); got != "https://models.internal:443/predictor" {
		t.Errorf("Host: bekommen %s", got)
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("PREDICTOR_ORIGINS", " https://app.example.com, ,chrome-extension://* ")
	origins := AllowedOrigins()
	if len(origins) != 2+12 {
		t.Fatalf("AllowedOrigins: erwartet 14 Eintraege, bekommen %d: %v", len(origins), origins)
	}
	if origins[0] != "https://app.example.com" || origins[1] != "chrome-extension://*" {
		t.Errorf("AllowedOrigins: eigene Origins falsch: %v", origins[:2])
	}
	if origins[len(origins)-1] != "https://0.0.0.0:*" {
		t.Errorf("AllowedOrigins: lokale Origins fehlen: %v", origins)
	}
}

func TestVarStripsQuotes(t *testing.T) {
	cases := map[string]string{
		` "cuda" `: "cuda",
		`'mkl'`:    "mkl",
		`"x'`:      `"x'`,
		`'`:        `'`,
	}
	for in, want := range cases {
		t.Setenv("PREDICTOR_TEST_VAR", in)
		if got := Var("PREDICTOR_TEST_VAR"); got != want {
			t.Errorf("Var(%q): erwartet %q, bekommen %q", in, want, got)
		}
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("PREDICTOR_DEVICE", "")
	t.Setenv("PREDICTOR_ENGINE", "")
	t.Setenv("PREDICTOR_NUM_THREADS", "")

	if d := Device(); d != "cpu" {
		t.Errorf("Device: erwartet cpu, bekommen %s", d)
	}
	if e := Engine(); e != "eigen" {
		t.Errorf("Engine: erwartet eigen, bekommen %s", e)
	}
	if n := NumThreads(); n != 0 {
		t.Errorf("NumThreads: erwartet 0, bekommen %d", n)
	}
}

func TestOverrides(t *testing.T) {
	t.Setenv("PREDICTOR_DEVICE", " CUDA ")
	t.Setenv("PREDICTOR_ENGINE", "'nnpack'")
	t.Setenv("PREDICTOR_NUM_THREADS", "4")
	t.Setenv("PREDICTOR_PROFILE", "1")

	if d := Device(); d != "cuda" {
		t.Errorf("Device: erwartet cuda, bekommen %s", d)
	}
	if e := Engine(); e != "nnpack" {
		t.Errorf("Engine: erwartet nnpack, bekommen %s", e)
	}
	if n := NumThreads(); n != 4 {
		t.Errorf("NumThreads: erwartet 4, bekommen %d", n)
	}
	if !Profile() {
		t.Error("Profile: sollte aktiviert sein")
	}
}

func TestInvalidUintFallsBack(t *testing.T) {
	t.Setenv("PREDICTOR_MAX_LOADED", "viele")
	if n := MaxLoaded(); n != 4 {
		t.Errorf("MaxLoaded: erwartet Default 4, bekommen %d", n)
	}
}

func TestOneOfRejectsUnknownValues(t *testing.T) {
	t.Setenv("PREDICTOR_DEVICE", "tpu")
	t.Setenv("PREDICTOR_ENGINE", "MKL")

	if d := Device(); d != "cpu" {
		t.Errorf("Device: erwartet Default cpu, bekommen %s", d)
	}
	if e := Engine(); e != "mkl" {
		t.Errorf("Engine: erwartet mkl, bekommen %s", e)
	}
}

func TestBoolUnparsableIsTrue(t *testing.T) {
	t.Setenv("PREDICTOR_PROFILE", "ja")
	if !Profile() {
		t.Error("Profile: gesetzter Wert sollte als aktiviert gelten")
	}
}

func TestFetchTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"":      5 * time.Minute,
		"90s":   90 * time.Second,
		"30":    30 * time.Second,
		"-1":    0,
		"bald":  5 * time.Minute,
		"0":     0,
	}
	for in, want := range cases {
		t.Setenv("PREDICTOR_FETCH_TIMEOUT", in)
		if got := FetchTimeout(); got != want {
			t.Errorf("FetchTimeout(%q): erwartet %v, bekommen %v", in, want, got)
		}
	}
}

func TestAsMapContainsAllVariables(t *testing.T) {
	m := AsMap()
	for _, k := range []string{"PREDICTOR_DEBUG", "PREDICTOR_DEVICE", "PREDICTOR_ENGINE", "PREDICTOR_HOST", "PREDICTOR_MODELS"} {
		if _, ok := m[k]; !ok {
			t.Errorf("AsMap: %s fehlt", k)
		}
	}
	if len(Values()) != len(m) {
		t.Errorf("Values: erwartet %d Eintraege, bekommen %d", len(m), len(Values()))
	}
}
