package classify

import (
	"testing"
	"time"
)

func TestClassify_Interactive(t *testing.T) {
	cases := []struct {
		command string
		want    bool
	}{
		{"sudo apt update", true},
		{"ssh user@host", true},
		{"git push origin main", true},
		{"pip install requests", true},
		{"npm install", true},
		{"docker run -i alpine", true},
		{"echo hello", false},
		{"ls -la", false},
		{"git status", false},
	}
	for _, tc := range cases {
		if got := Classify(tc.command).Interactive; got != tc.want {
			t.Errorf("Classify(%q).Interactive = %v, want %v", tc.command, got, tc.want)
		}
	}
}

func TestClassify_Network(t *testing.T) {
	cases := []struct {
		command string
		want    bool
	}{
		{"curl https://example.com", true},
		{"wget http://example.com/file", true},
		{"ping -c 3 localhost", true},
		{"cat https.md", false},
		{"echo hello", false},
	}
	for _, tc := range cases {
		if got := Classify(tc.command).Network; got != tc.want {
			t.Errorf("Classify(%q).Network = %v, want %v", tc.command, got, tc.want)
		}
	}
}

func TestClassify_PotentiallyHanging(t *testing.T) {
	cases := []struct {
		command string
		want    bool
	}{
		{"tail -f /var/log/syslog", true},
		{"journalctl --follow", true},
		{"watch date", true},
		{"less README.md", true},
		{"yes", true},
		{"tail -n 5 file.txt", false},
		{"echo done", false},
	}
	for _, tc := range cases {
		if got := Classify(tc.command).PotentiallyHanging; got != tc.want {
			t.Errorf("Classify(%q).PotentiallyHanging = %v, want %v", tc.command, got, tc.want)
		}
	}
}

func TestClassify_PureAndRepeatable(t *testing.T) {
	const cmd = "sudo curl -s https://example.com | tail -f -"
	first := Classify(cmd)
	for range 10 {
		if got := Classify(cmd); got != first {
			t.Fatalf("Classify not repeatable: %+v vs %+v", got, first)
		}
	}
	if !first.Interactive || !first.Network || !first.PotentiallyHanging {
		t.Errorf("Classify(%q) = %+v, want all flags set", cmd, first)
	}
	if !first.Risky() {
		t.Error("Risky() = false, want true")
	}
}

func TestTimeoutFor(t *testing.T) {
	if got := TimeoutFor("curl https://example.com"); got != NetworkTimeout {
		t.Errorf("TimeoutFor(network) = %v, want %v", got, NetworkTimeout)
	}
	if got := TimeoutFor("sleep 1"); got != DefaultTimeout {
		t.Errorf("TimeoutFor(default) = %v, want %v", got, DefaultTimeout)
	}
	if NetworkTimeout >= DefaultTimeout {
		t.Error("network timeout should be shorter than default")
	}
}

func TestWarning(t *testing.T) {
	if w := Warning("sudo rm -rf /tmp/x"); w == "" {
		t.Error("Warning(interactive) = \"\", want advisory text")
	}
	if w := Warning("tail -f log"); w == "" {
		t.Error("Warning(hanging) = \"\", want advisory text")
	}
	if w := Warning("echo ok"); w != "" {
		t.Errorf("Warning(benign) = %q, want \"\"", w)
	}
}

func TestReadLineTimeoutIsShort(t *testing.T) {
	if ReadLineTimeout > 5*time.Second {
		t.Errorf("ReadLineTimeout = %v, want a short bound", ReadLineTimeout)
	}
}
