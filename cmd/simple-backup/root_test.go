package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := execute(cmd, append(args, "--no-syslog", "--quiet"))
	return stdout.String(), stderr.String(), err
}

// writeConfig creates an input and an output directory and a config file
// pointing at them.
func writeConfig(t *testing.T, extra string) (cfgPath, input, output string) {
	t.Helper()

	dir := t.TempDir()
	input = filepath.Join(dir, "docs")
	output = filepath.Join(dir, "backups")
	require.NoError(t, os.MkdirAll(input, 0o755))
	require.NoError(t, os.MkdirAll(output, 0o755))

	content := "[backup]\n" +
		"inputs = " + input + "\n" +
		"backup_dir = " + output + "\n" +
		"keep = 3\n\n" +
		"[notify]\n" +
		"desktop = false\n" + extra

	cfgPath = filepath.Join(dir, "simple_backup.conf")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, input, output
}

func TestFlagErrorIsConfigurationError(t *testing.T) {
	_, stderr, err := runCLI(t, "--keep", "many")

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
	assert.Contains(t, stderr, "--help")
}

func TestUnknownFlagIsConfigurationError(t *testing.T) {
	_, _, err := runCLI(t, "--no-such-flag")

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
}

func TestValidate_SeveralInputsAfterOneFlag(t *testing.T) {
	cfgPath, input, _ := writeConfig(t, "")
	second := filepath.Join(filepath.Dir(input), "pics")
	require.NoError(t, os.MkdirAll(second, 0o755))

	tests := []struct {
		name string
		args []string
	}{
		{name: "long flag", args: []string{"validate", "-c", cfgPath, "--input", input, second}},
		{name: "shorthand", args: []string{"validate", "-c", cfgPath, "-i", input, second}},
		{name: "before subcommand", args: []string{"-i", input, second, "validate", "-c", cfgPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := runCLI(t, tt.args...)

			require.NoError(t, err)
			assert.Contains(t, stdout, "Inputs: "+input+", "+second)
		})
	}
}

func TestValidate_SeveralRsyncOptionsAfterOneFlag(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	stdout, _, err := runCLI(t, "validate", "-c", cfgPath, "--rsync-options", "a", "H")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Options: -rvaH")
}

func TestValidate_SeveralExcludesAfterOneFlag(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	stdout, _, err := runCLI(t, "validate", "-c", cfgPath, "-e", "*.tmp", "cache/", "-k", "2")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Excludes: *.tmp, cache/")
	assert.Contains(t, stdout, "Keep: 2")
}

func TestStrayArgumentIsConfigurationError(t *testing.T) {
	_, stderr, err := runCLI(t, "validate", "extra")

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
	assert.Contains(t, stderr, `unexpected argument "extra"`)
}

func TestExpandMultiValueArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "long flag",
			args:     []string{"--input", "a", "b", "c"},
			expected: []string{"--input", "a", "--input", "b", "--input", "c"},
		},
		{
			name:     "legacy spelling",
			args:     []string{"--inputs", "a", "b"},
			expected: []string{"--inputs", "a", "--input", "b"},
		},
		{
			name:     "value after equals",
			args:     []string{"--rsync-options=a", "H", "X"},
			expected: []string{"--rsync-options=a", "--rsync-options", "H", "--rsync-options", "X"},
		},
		{
			name:     "combined shorthands",
			args:     []string{"-zi", "a", "b"},
			expected: []string{"-zi", "a", "--input", "b"},
		},
		{
			name:     "attached shorthand value",
			args:     []string{"-ia", "b"},
			expected: []string{"-ia", "--input", "b"},
		},
		{
			name:     "next flag ends the list",
			args:     []string{"-e", "x", "y", "-o", "/mnt", "z"},
			expected: []string{"-e", "x", "--exclude", "y", "-o", "/mnt", "z"},
		},
		{
			name:     "subcommand ends the list",
			args:     []string{"-i", "a", "b", "list", "c"},
			expected: []string{"-i", "a", "--input", "b", "list", "c"},
		},
		{
			name:     "double dash",
			args:     []string{"-i", "a", "--", "b"},
			expected: []string{"-i", "a", "--", "b"},
		},
		{
			name:     "scalar flag",
			args:     []string{"validate", "-c", "x.conf", "y"},
			expected: []string{"validate", "-c", "x.conf", "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			assert.Equal(t, tt.expected, expandMultiValueArgs(cmd, tt.args))
		})
	}
}

func TestLoggerIsPerInvocation(t *testing.T) {
	run := func(args ...string) *app {
		a := newApp()
		cmd := a.rootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		_ = execute(cmd, append(args, "--no-syslog", "validate", "-c", filepath.Join(t.TempDir(), "missing.conf")))
		return a
	}

	verbose := run("--verbose")
	plain := run()

	assert.Equal(t, zerolog.DebugLevel, verbose.logger.GetLevel())
	assert.Equal(t, zerolog.InfoLevel, plain.logger.GetLevel())
}

func TestValidate(t *testing.T) {
	cfgPath, input, output := writeConfig(t, "")

	stdout, _, err := runCLI(t, "validate", "-c", cfgPath)

	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration is valid!")
	assert.Contains(t, stdout, "Inputs: "+input)
	assert.Contains(t, stdout, "Output: "+output)
	assert.Contains(t, stdout, "Keep: 3")
	assert.Contains(t, stdout, "Desktop notifications: false")
	assert.NotContains(t, stdout, "Server:")
}

func TestValidate_FlagsOverrideFile(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	stdout, _, err := runCLI(t, "validate", "-c", cfgPath, "--keep", "5", "--ssh-host", "nas", "--ssh-user", "backup")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Keep: 5")
	assert.Contains(t, stdout, "Server:")
	assert.Contains(t, stdout, "Host: nas")
}

func TestValidate_LegacyInputsFlag(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")
	other := t.TempDir()

	stdout, _, err := runCLI(t, "validate", "-c", cfgPath, "--inputs", other)

	require.NoError(t, err)
	assert.Contains(t, stdout, "Inputs: "+other)
}

func TestValidate_IncompleteRemote(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	_, _, err := runCLI(t, "validate", "-c", cfgPath, "--ssh-host", "nas")

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
}

func TestValidate_MissingExplicitConfig(t *testing.T) {
	_, _, err := runCLI(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.conf"))

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
}

func TestValidate_BadRsyncOption(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	_, _, err := runCLI(t, "validate", "-c", cfgPath, "--rsync-options", "a,q")

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
}

func TestList(t *testing.T) {
	cfgPath, _, output := writeConfig(t, "")
	for _, name := range []string{
		"2024-01-01_00-00-00",
		"2024-01-02_00-00-00",
		"2024-01-03_00-00-00",
		"2024-01-04_00-00-00",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(output, "simple_backup", name), 0o755))
	}

	stdout, _, err := runCLI(t, "list", "-c", cfgPath)

	require.NoError(t, err)
	assert.Contains(t, stdout, "2024-01-01_00-00-00")
	assert.Contains(t, stdout, "2024-01-04_00-00-00")
	assert.Contains(t, stdout, "keep: 3")
	assert.Contains(t, stdout, "remove")
}

func TestList_MissingOutput(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	_, _, err := runCLI(t, "list", "-c", cfgPath, "-o", filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitDestinationUnavailable, apperrors.ExitCode(err))
}

func TestBackup_NoValidInput(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	_, _, err := runCLI(t, "-c", cfgPath, "-i", filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitNoValidInput, apperrors.ExitCode(err))
}

func TestBackup_OutputMissing(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "")

	_, _, err := runCLI(t, "-c", cfgPath, "-o", filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitDestinationUnavailable, apperrors.ExitCode(err))
}

func TestRenderInventory(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	entries := []models.BackupEntry{
		{Name: "2024-01-01_00-00-00", Time: day(1)},
		{Name: "2024-01-02_00-00-00", Time: day(2)},
	}
	inv := &models.Inventory{
		Destination: models.LocalDestination("/mnt/backup"),
		Entries:     entries,
		Plan:        models.NewRetentionPlan(entries[:1], entries[1:]),
		Keep:        1,
	}

	var buf bytes.Buffer
	renderInventory(&buf, inv, day(4))
	out := buf.String()

	assert.Contains(t, out, "Backups in /mnt/backup (keep: 1)")
	assert.Contains(t, out, "2024-01-01 00:00:00")
	assert.Contains(t, out, "3d")
	assert.Contains(t, out, "remove")
	assert.Contains(t, out, "keep")
	assert.Contains(t, strings.ToUpper(out), "TOTAL")
}

func TestKeepLabel(t *testing.T) {
	assert.Equal(t, "all", keepLabel(models.KeepAll))
	assert.Equal(t, "0", keepLabel(0))
	assert.Equal(t, "7", keepLabel(7))
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "5m", formatAge(5*time.Minute))
	assert.Equal(t, "30h", formatAge(30*time.Hour))
	assert.Equal(t, "3d", formatAge(72*time.Hour))
}

func TestReadConfirmation(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"yes", true},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			ok, err := readConfirmation(bufio.NewReader(strings.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestReadConfirmation_EOF(t *testing.T) {
	_, err := readConfirmation(bufio.NewReader(strings.NewReader("")))
	require.Error(t, err)
}
