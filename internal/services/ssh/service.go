// Package ssh connects to the backup server and runs the commands used to
// inspect and prune backups there.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/kevinburke/ssh_config"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Service defines the interface for SSH operations.
type Service interface {
	Connect(ctx context.Context, cfg models.RemoteConfig) (Session, error)
}

// Session is an authenticated connection to the backup server.
type Session interface {
	// Run executes cmd in the remote shell and returns its combined output.
	Run(ctx context.Context, cmd string) ([]byte, error)
	// PasswordEnv returns the environment that lets rsync reuse the password
	// typed for this session through sshpass, or nil.
	PasswordEnv() []string
	Close() error
}

// Prompter asks the user for secrets and confirmations.
type Prompter interface {
	Password(prompt string) (string, error)
	Confirm(prompt string) (bool, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Options configures the SSH service.
type Options struct {
	HomeDir       string   // where .ssh/known_hosts and default keys live
	Prompter      Prompter // nil disables prompts
	ClientFactory ClientFactory
	// ConfigLookup reads ssh_config values; defaults to ssh_config.Get.
	ConfigLookup func(alias, key string) string
	// LookPath finds executables; defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// Impl implements the SSH Service interface.
type Impl struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger, opts Options) *Impl {
	if opts.ClientFactory == nil {
		opts.ClientFactory = &DefaultClientFactory{}
	}
	if opts.ConfigLookup == nil {
		opts.ConfigLookup = ssh_config.Get
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	return &Impl{opts: opts, logger: logger}
}

// defaultKeys are tried when no keyfile is configured.
var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Connect authenticates against the server with, in order, the SSH agent,
// the configured keyfile (or the default keys) and an interactive password.
func (s *Impl) Connect(ctx context.Context, cfg models.RemoteConfig) (Session, error) {
	addr := cfg.Address(s.opts.ConfigLookup)

	s.logger.Info().
		Str("host", cfg.Host).
		Str("addr", addr).
		Str("user", cfg.User).
		Msg("connecting to server")

	sess := &remoteSession{logger: s.logger, lookPath: s.opts.LookPath}

	sshConfig, err := s.buildConfig(cfg, sess)
	if err != nil {
		return nil, err
	}

	// Create client with context timeout
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.opts.ClientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, errors.Wrapf(res.err, "failed to connect to %s", addr)
		}
		sess.client = res.client
	}

	s.logger.Debug().Bool("password_auth", sess.passwordAuth).Msg("connected to server")
	return sess, nil
}

func (s *Impl) buildConfig(cfg models.RemoteConfig, sess *remoteSession) (*ssh.ClientConfig, error) {
	signers, err := s.signers(cfg)
	if err != nil {
		return nil, err
	}

	var auth []ssh.AuthMethod
	if len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if s.opts.Prompter != nil {
		auth = append(auth, ssh.PasswordCallback(func() (string, error) {
			password, err := s.opts.Prompter.Password(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host))
			if err != nil {
				return "", err
			}
			sess.passwordAuth = true
			sess.password = password
			return password, nil
		}))
	}
	if len(auth) == 0 {
		return nil, errors.New("no SSH authentication method available (no agent, key or terminal)")
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: s.hostKeyCallback(),
		Timeout:         30 * time.Second,
	}, nil
}

// signers collects agent keys followed by the keyfile or the default keys.
func (s *Impl) signers(cfg models.RemoteConfig) ([]ssh.Signer, error) {
	var signers []ssh.Signer

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentSigners, err := agent.NewClient(conn).Signers()
			if err != nil {
				s.logger.Debug().Err(err).Msg("cannot read keys from ssh agent")
			}
			signers = append(signers, agentSigners...)
		}
	}

	if cfg.KeyFile != "" {
		signer, err := s.loadKey(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return append(signers, signer), nil
	}

	if s.opts.HomeDir == "" {
		return signers, nil
	}
	for _, name := range defaultKeys {
		key, err := os.ReadFile(filepath.Join(s.opts.HomeDir, ".ssh", name))
		if err != nil {
			continue
		}
		// Encrypted default keys are skipped; they would need a prompt per key.
		if signer, err := ssh.ParsePrivateKey(key); err == nil {
			signers = append(signers, signer)
		}
	}
	return signers, nil
}

func (s *Impl) loadKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read private key from %s", path)
	}

	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && s.opts.Prompter != nil {
		passphrase, perr := s.opts.Prompter.Password(fmt.Sprintf("Enter passphrase for key '%s': ", path))
		if perr != nil {
			return nil, perr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return signer, nil
}

// hostKeyCallback verifies keys against known_hosts. Unknown hosts are
// confirmed through the prompter (or accepted with a warning when there is
// none); changed keys are always rejected.
func (s *Impl) hostKeyCallback() ssh.HostKeyCallback {
	var known ssh.HostKeyCallback
	if s.opts.HomeDir != "" {
		path := filepath.Join(s.opts.HomeDir, ".ssh", "known_hosts")
		cb, err := knownhosts.New(path)
		if err != nil {
			s.logger.Warn().Str("file", path).Msg("cannot read known hosts file")
		} else {
			known = cb
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			err := known(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
				return errors.Wrapf(err, "host key verification failed for %s", hostname)
			}
		}

		fingerprint := ssh.FingerprintSHA256(key)
		if s.opts.Prompter == nil {
			s.logger.Warn().
				Str("host", hostname).
				Str("fingerprint", fingerprint).
				Msg("unknown host key accepted")
			return nil
		}

		ok, err := s.opts.Prompter.Confirm(fmt.Sprintf("Unknown key %s for host %s. Continue anyway?", fingerprint, hostname))
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf("host key for %s rejected", hostname)
		}
		return nil
	}
}

// remoteSession implements Session.
type remoteSession struct {
	client       SSHClient
	passwordAuth bool
	password     string
	logger       zerolog.Logger
	lookPath     func(file string) (string, error)
}

func (r *remoteSession) Run(ctx context.Context, cmd string) ([]byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	defer session.Close()

	r.logger.Debug().Str("command", cmd).Msg("running remote command")

	type result struct {
		output []byte
		err    error
	}
	resChan := make(chan result, 1)
	go func() {
		output, err := session.CombinedOutput(cmd)
		resChan <- result{output, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case res := <-resChan:
		return res.output, res.err
	}
}

func (r *remoteSession) PasswordEnv() []string {
	if !r.passwordAuth {
		return nil
	}
	if _, err := r.lookPath("sshpass"); err != nil {
		r.logger.Warn().Msg("sshpass not found, rsync will ask for the password again")
		return nil
	}
	return []string{"SSHPASS=" + r.password}
}

func (r *remoteSession) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
