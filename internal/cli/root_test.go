package cli

import "testing"

func TestVersionCommand(t *testing.T) {
	resetFlags(rootCmd)
	rootCmd.SetArgs([]string{"version"})
	out, err := captureStdout(t, rootCmd.Execute)
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	requireContains(t, out, "boorupan "+Version+" ("+Commit+")")
}

func TestEnvPrefix(t *testing.T) {
	t.Setenv("BOORUPAN_LOG_LEVEL", "debug")
	t.Setenv("BOORUPAN_SERVER", "http://sync.test")

	v := newEnv()
	if got := v.GetString("log-level"); got != "debug" {
		t.Errorf("log-level = %q, want debug", got)
	}
	if got := v.GetString("server"); got != "http://sync.test" {
		t.Errorf("server = %q", got)
	}
}
