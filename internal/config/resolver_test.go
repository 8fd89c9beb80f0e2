package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testEnvironment(home string) Environment {
	return Environment{
		EUID: 1000,
		Getenv: func(key string) string {
			if key == "USER" {
				return "alice"
			}
			return ""
		},
		LookupHome: func(username string) (string, error) {
			if username == "alice" {
				return home, nil
			}
			return "", errors.New("unknown user")
		},
		Glob: filepath.Glob,
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// testHome creates a fake home with docs/ and pictures/ directories.
func testHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(home, "pictures"), 0o755))
	return home
}

func TestResolve_Defaults(t *testing.T) {
	home := testHome(t)
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))

	settings, err := r.Resolve(nil, Overrides{})

	require.NoError(t, err)
	assert.Equal(t, models.KeepAll, settings.Keep)
	assert.Nil(t, settings.Remote)
	assert.Empty(t, settings.Inputs)
	assert.Empty(t, settings.Output)
	assert.Equal(t, DefaultRsyncOptions, settings.Rsync.Options)
	assert.True(t, settings.Rsync.Defaults)
	assert.True(t, settings.Notify.Desktop)
	assert.False(t, settings.RemoveBefore)
}

func TestResolve_Precedence(t *testing.T) {
	home := testHome(t)
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))

	file := &FileValues{
		Inputs:    []string{"~/docs"},
		BackupDir: "/mnt/file-backup",
		Excludes:  []string{"*.tmp"},
		Keep:      intPtr(3),
	}

	t.Run("file only", func(t *testing.T) {
		settings, err := r.Resolve(file, Overrides{})

		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(home, "docs")}, settings.Inputs)
		assert.Equal(t, "/mnt/file-backup", settings.Output)
		assert.Equal(t, []string{"*.tmp"}, settings.Excludes)
		assert.Equal(t, 3, settings.Keep)
	})

	t.Run("cli wins", func(t *testing.T) {
		settings, err := r.Resolve(file, Overrides{
			Inputs:   []string{filepath.Join(home, "pictures")},
			Output:   strPtr("/mnt/cli-backup"),
			Excludes: []string{".cache"},
			Keep:     intPtr(0),
		})

		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(home, "pictures")}, settings.Inputs)
		assert.Equal(t, "/mnt/cli-backup", settings.Output)
		assert.Equal(t, []string{".cache"}, settings.Excludes)
		assert.Equal(t, 0, settings.Keep)
	})
}

func TestResolve_InputExpansion(t *testing.T) {
	home := testHome(t)
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))

	settings, err := r.Resolve(&FileValues{
		Inputs: []string{"~/*", "~/docs", "~/missing", "~/docs,~/pictures"},
	}, Overrides{})

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(home, "docs"),
		filepath.Join(home, "pictures"),
	}, settings.Inputs)
}

func TestResolve_RelativeOutputIsAbsolute(t *testing.T) {
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(testHome(t)))

	settings, err := r.Resolve(nil, Overrides{Output: strPtr("backups")})

	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(settings.Output))
}

func TestResolve_Remote(t *testing.T) {
	home := testHome(t)
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))

	file := &FileValues{
		BackupDir: "/srv/backups/",
		Server: &ServerValues{
			Host:       "nas.local",
			User:       "backup",
			KeyFile:    "~/.ssh/id_ed25519",
			Port:       2222,
			NumericIDs: true,
		},
	}

	settings, err := r.Resolve(file, Overrides{SSHUser: strPtr("root"), RemoteSudo: true})

	require.NoError(t, err)
	require.NotNil(t, settings.Remote)
	assert.Equal(t, "nas.local", settings.Remote.Host)
	assert.Equal(t, "root", settings.Remote.User)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), settings.Remote.KeyFile)
	assert.Equal(t, 2222, settings.Remote.Port)
	assert.True(t, settings.Remote.Sudo)
	assert.True(t, settings.Rsync.NumericIDs)
	assert.Equal(t, "/srv/backups", settings.Output)
}

func TestResolve_IncompleteRemote(t *testing.T) {
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(testHome(t)))

	tests := []struct {
		name string
		file *FileValues
		cli  Overrides
	}{
		{name: "host without user", file: &FileValues{Server: &ServerValues{Host: "nas"}}},
		{name: "user without host", cli: Overrides{SSHUser: strPtr("backup")}},
		{name: "cli host empty user", cli: Overrides{SSHHost: strPtr("nas"), SSHUser: strPtr("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.file, tt.cli)

			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
			assert.Equal(t, 6, apperrors.ExitCode(err))
			assert.ErrorIs(t, err, models.ErrIncompleteRemote)
		})
	}
}

func TestResolve_RsyncOptions(t *testing.T) {
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(testHome(t)))

	t.Run("explicit letters", func(t *testing.T) {
		settings, err := r.Resolve(nil, Overrides{RsyncOptions: []string{"a", "H", "lpt", "-X", "a"}})

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "H", "l", "p", "t", "X"}, settings.Rsync.Options)
		assert.False(t, settings.Rsync.Defaults)
	})

	t.Run("r and v are implied", func(t *testing.T) {
		settings, err := r.Resolve(nil, Overrides{RsyncOptions: []string{"r", "v", "t"}})

		require.NoError(t, err)
		assert.Equal(t, []string{"t"}, settings.Rsync.Options)
	})

	t.Run("checksum adds c once", func(t *testing.T) {
		settings, err := r.Resolve(nil, Overrides{RsyncOptions: []string{"a", "c"}, Checksum: true, Compress: true})

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, settings.Rsync.Options)
		assert.True(t, settings.Rsync.Compress)
	})

	t.Run("unsupported letter", func(t *testing.T) {
		_, err := r.Resolve(nil, Overrides{RsyncOptions: []string{"a", "z"}})

		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported rsync option "z"`)
		assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
	})
}

func TestResolve_InvalidKeep(t *testing.T) {
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(testHome(t)))

	_, err := r.Resolve(nil, Overrides{Keep: intPtr(-5)})

	require.Error(t, err)
	assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
}

func TestResolve_Notifications(t *testing.T) {
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(testHome(t)))
	desktop := false
	file := &FileValues{
		Desktop:  &desktop,
		Telegram: &models.TelegramConfig{BotToken: "t", ChatID: "c"},
	}

	settings, err := r.Resolve(file, Overrides{})
	require.NoError(t, err)
	assert.False(t, settings.Notify.Desktop)
	assert.NotNil(t, settings.Notify.Telegram)

	settings, err = r.Resolve(file, Overrides{NoNotify: true})
	require.NoError(t, err)
	assert.Nil(t, settings.Notify.Telegram)
}

func TestResolve_WOL(t *testing.T) {
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(testHome(t)))
	wol := &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}

	_, err := r.Resolve(&FileValues{WOL: wol}, Overrides{})
	require.Error(t, err)

	settings, err := r.Resolve(&FileValues{
		WOL:    wol,
		Server: &ServerValues{Host: "nas", User: "backup", Port: 2200},
	}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "nas:2200", settings.WOL.PollAddr)
	assert.Empty(t, wol.PollAddr)
}

func TestResolve_WOLPollAddrFollowsSSHConfig(t *testing.T) {
	env := testEnvironment(testHome(t))
	env.SSHConfig = func(alias, key string) string {
		if alias != "nas" {
			return ""
		}
		switch key {
		case "HostName":
			return "192.168.1.20"
		case "Port":
			return "2222"
		}
		return ""
	}
	r := NewResolverWithEnvironment(testLogger(), env)
	wol := &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}

	tests := []struct {
		name     string
		port     int
		expected string
	}{
		{name: "host and port from ssh config", port: 0, expected: "192.168.1.20:2222"},
		{name: "configured port wins", port: 2200, expected: "192.168.1.20:2200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings, err := r.Resolve(&FileValues{
				WOL:    wol,
				Server: &ServerValues{Host: "nas", User: "backup", Port: tt.port},
			}, Overrides{})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, settings.WOL.PollAddr)
		})
	}
}

func TestUser(t *testing.T) {
	home := testHome(t)

	t.Run("explicit user", func(t *testing.T) {
		r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))
		username, dir := r.User(Overrides{User: strPtr("alice")})
		assert.Equal(t, "alice", username)
		assert.Equal(t, home, dir)
	})

	t.Run("root uses SUDO_USER", func(t *testing.T) {
		env := testEnvironment(home)
		env.EUID = 0
		env.Getenv = func(key string) string {
			if key == "SUDO_USER" {
				return "alice"
			}
			return "root"
		}
		r := NewResolverWithEnvironment(testLogger(), env)

		username, dir := r.User(Overrides{})
		assert.Equal(t, "alice", username)
		assert.Equal(t, home, dir)
	})

	t.Run("unknown user", func(t *testing.T) {
		r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))
		username, dir := r.User(Overrides{User: strPtr("bob")})
		assert.Equal(t, "bob", username)
		assert.Empty(t, dir)
	})
}

func TestLoad(t *testing.T) {
	home := testHome(t)
	r := NewResolverWithEnvironment(testLogger(), testEnvironment(home))

	t.Run("explicit missing config", func(t *testing.T) {
		_, err := r.Load(Overrides{ConfigFile: strPtr(filepath.Join(home, "nope.conf"))})

		require.Error(t, err)
		assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
	})

	t.Run("explicit config with cli override", func(t *testing.T) {
		path := filepath.Join(home, "backup.conf")
		content := "[backup]\ninputs = ~/docs\nbackup_dir = /mnt/backup\nkeep = 2\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		settings, err := r.Load(Overrides{ConfigFile: strPtr("~/backup.conf"), Keep: intPtr(4)})

		require.NoError(t, err)
		assert.Equal(t, path, settings.ConfigFile)
		assert.Equal(t, []string{filepath.Join(home, "docs")}, settings.Inputs)
		assert.Equal(t, "/mnt/backup", settings.Output)
		assert.Equal(t, 4, settings.Keep)
		assert.Equal(t, "alice", settings.User)
		assert.Equal(t, home, settings.HomeDir)
	})

	t.Run("required keys", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			cli     Overrides
			errMsg  string
		}{
			{
				name:    "no inputs",
				content: "[backup]\nbackup_dir = /mnt/backup\n",
				errMsg:  "no inputs configured",
			},
			{
				name:    "no backup_dir",
				content: "[backup]\ninputs = ~/docs\n",
				errMsg:  "no output directory configured",
			},
			{
				name:    "empty section",
				content: "[backup]\nkeep = 2\n",
				errMsg:  "no inputs configured",
			},
			{
				name:    "command line fills the gaps",
				content: "[backup]\nkeep = 2\n",
				cli:     Overrides{Inputs: []string{"~/docs"}, Output: strPtr("/mnt/backup")},
			},
		}

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(home, fmt.Sprintf("required-%d.conf", i))
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
				tt.cli.ConfigFile = strPtr(path)

				settings, err := r.Load(tt.cli)

				if tt.errMsg == "" {
					require.NoError(t, err)
					assert.Equal(t, "/mnt/backup", settings.Output)
					return
				}
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Equal(t, apperrors.ExitConfiguration, apperrors.ExitCode(err))
			})
		}
	})
}

func TestOverridesFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice(FlagInput, nil, "")
	fs.String(FlagOutput, "", "")
	fs.Int(FlagKeep, -1, "")
	fs.String(FlagSSHHost, "", "")
	fs.Bool(FlagCompress, false, "")
	fs.StringSlice(FlagRsyncOptions, nil, "")

	require.NoError(t, fs.Parse([]string{"--input", "/a,/b", "--keep", "3", "--compress"}))

	o, err := OverridesFromFlags(fs)

	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, o.Inputs)
	require.NotNil(t, o.Keep)
	assert.Equal(t, 3, *o.Keep)
	assert.True(t, o.Compress)
	assert.Nil(t, o.Output)
	assert.Nil(t, o.SSHHost)
	assert.Nil(t, o.RsyncOptions)
}
