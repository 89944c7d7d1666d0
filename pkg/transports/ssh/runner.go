package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// Upload copies a local file to remotePath over SFTP and makes it
// executable. It lets the client act as a runner transport.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs, err := c.Fs()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := fs.MkdirAll(path.Dir(remotePath), 0o755); err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create %s: %w", path.Dir(remotePath), err)}
	}

	dst, err := fs.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o700)
	if err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create %s: %w", remotePath, err)}
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to upload %s: %w", remotePath, err)}
	}
	if err := fs.Chmod(remotePath, 0o700); err != nil {
		return &TransportError{Op: "sftp", Err: err}
	}

	c.logger.Debug().Str("path", remotePath).Int64("bytes", n).Msg("Uploaded runner")
	return nil
}

// Start runs remotePath in a new session and returns its stdin and
// stdout. Closing stdout ends the session.
func (c *Client) Start(ctx context.Context, remotePath string, args []string) (io.WriteCloser, io.ReadCloser, error) {
	line, err := remoteCommand(aur.Command{Argv: append([]string{remotePath}, args...)})
	if err != nil {
		return nil, nil, err
	}

	client, err := c.client()
	if err != nil {
		return nil, nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err)}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, nil, &TransportError{Op: "exec", Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, nil, &TransportError{Op: "exec", Err: err}
	}

	if err := session.Start(line); err != nil {
		_ = session.Close()
		return nil, nil, &TransportError{Op: "exec", Err: err}
	}

	go func() {
		<-ctx.Done()
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
	}()

	c.logger.Debug().Str("command", line).Msg("Started runner session")
	return stdin, &sessionReader{Reader: stdout, session: session}, nil
}

// Cleanup removes remotePath. A missing file is not an error.
func (c *Client) Cleanup(_ context.Context, remotePath string) error {
	fs, err := c.Fs()
	if err != nil {
		return err
	}
	if err := fs.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &TransportError{Op: "sftp", Err: err}
	}
	return nil
}

type sessionReader struct {
	io.Reader
	session *ssh.Session
}

func (r *sessionReader) Close() error {
	_ = r.session.Wait()
	if err := r.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
