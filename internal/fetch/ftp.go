package fetch

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// downloadFTP retrieves an ftp:// location to a local file. Anonymous login
// unless the URL carries credentials.
func (c *Client) downloadFTP(ctx context.Context, rawURL, path string) (int64, error) {
	host, remotePath, user, pass, err := parseFTPURL(rawURL)
	if err != nil {
		return 0, eris.Wrapf(ErrDownload, "%v", err)
	}

	conn, err := ftp.Dial(host,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.opts.Timeout),
	)
	if err != nil {
		return 0, eris.Wrapf(ErrDownload, "ftp dial %s: %v", host, err)
	}
	defer func() {
		if quitErr := conn.Quit(); quitErr != nil {
			zap.L().Debug("ftp quit failed", zap.Error(quitErr))
		}
	}()

	if err := conn.Login(user, pass); err != nil {
		return 0, eris.Wrapf(ErrDownload, "ftp login %s: %v", host, err)
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return 0, eris.Wrapf(ErrDownload, "ftp retr %s: %v", remotePath, err)
	}
	defer resp.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	deadline := time.Now().Add(c.opts.Timeout)
	if err := resp.SetDeadline(deadline); err != nil {
		zap.L().Debug("ftp set deadline failed", zap.Error(err))
	}

	n, err := io.Copy(file, newProgressReader(resp, -1, rawURL))
	if err != nil {
		return n, eris.Wrapf(ErrDownload, "ftp read %s: %v", rawURL, err)
	}
	return n, nil
}

// parseFTPURL extracts host:port, path, and credentials from an FTP URL.
func parseFTPURL(rawURL string) (host, path, user, pass string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	if u.Path == "" {
		return "", "", "", "", eris.New("empty path in ftp url")
	}

	user, pass = "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}

	return host, u.Path, user, pass, nil
}
