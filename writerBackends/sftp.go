package writerbackends

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTP uploads objects to a remote directory over SSH.
type SFTP struct {
	addr      string
	remoteDir string
	config    *ssh.ClientConfig
}

// options: host, port (default 22), user, password or privateKey (raw PEM
// or base64), remoteDir, hostKey (authorized_keys line; unchecked if empty).
func newSFTP(opts map[string]string) (*SFTP, error) {
	host := opts["host"]
	port := opts["port"]
	if port == "" {
		port = "22"
	}
	user := opts["user"]
	if host == "" || user == "" {
		return nil, fmt.Errorf("sftp: host and user are required")
	}

	var auths []ssh.AuthMethod
	if privateKey := opts["privateKey"]; privateKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(privateKey)
		if err != nil {
			keyBytes = []byte(privateKey)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("sftp: parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	} else if password := opts["password"]; password != "" {
		auths = append(auths, ssh.Password(password))
	} else {
		return nil, fmt.Errorf("sftp: set password or privateKey")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if hk := opts["hostKey"]; hk != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(hk))
		if err != nil {
			return nil, fmt.Errorf("sftp: parse host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	}

	return &SFTP{
		addr:      net.JoinHostPort(host, port),
		remoteDir: opts["remoteDir"],
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            auths,
			HostKeyCallback: hostKeyCallback,
			Timeout:         10 * time.Second,
		},
	}, nil
}

func (s *SFTP) Name() string {
	return "sftp:" + s.addr
}

func (s *SFTP) Put(ctx context.Context, name string, r io.Reader) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial tcp %s: %w", s.addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", s.addr, err)
	}
	sshClient := ssh.NewClient(clientConn, chans, reqs)
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("create sftp client: %w", err)
	}
	defer sftpClient.Close()

	if err := mkdirAllSFTP(sftpClient, s.remoteDir); err != nil {
		return fmt.Errorf("ensure remote dir %s: %w", s.remoteDir, err)
	}

	remotePath := path.Join(s.remoteDir, name)
	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("copy to remote file %s: %w", remotePath, err)
	}
	return nil
}

// mkdirAllSFTP mimics os.MkdirAll for an SFTP server by creating each segment of the path.
func mkdirAllSFTP(client *sftp.Client, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	parts := strings.Split(dir, "/")
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}

	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = path.Join(cur, p)
		if _, err := client.Stat(cur); err != nil {
			if os.IsNotExist(err) {
				if err := client.Mkdir(cur); err != nil {
					return fmt.Errorf("mkdir %s: %w", cur, err)
				}
			} else {
				return fmt.Errorf("stat %s: %w", cur, err)
			}
		}
	}
	return nil
}
