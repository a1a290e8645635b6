package worktreesync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yordan-kanchelov/git-worktree-sync/auth"
	"github.com/yordan-kanchelov/git-worktree-sync/giturl"
)

const loadCredsScript = `#!/bin/sh

case "$1" in
  Username*) echo "$REPO_USERNAME" ;;
  Password*) echo "$REPO_PASSWORD" ;;
esac
`

// authEnv computes the environment variables InitBare/Fetch need to
// authenticate against the remote, branching on the remote URL's scheme.
func (r *Repository) authEnv(ctx context.Context) []string {
	if giturl.IsSCPURL(r.remote) || giturl.IsSSHURL(r.remote) {
		return []string{r.gitSSHCommand()}
	}
	if !giturl.IsHTTPSURL(r.remote) {
		return nil
	}

	var username, password string
	switch {
	case r.cfg.Auth.Username != "" && r.cfg.Auth.Password != "":
		username, password = r.cfg.Auth.Username, r.cfg.Auth.Password
	case r.cfg.Auth.Password != "":
		username, password = "-", r.cfg.Auth.Password
	case r.cfg.Auth.GithubAppInstallationID != "" && r.gitURL.Host == "github.com":
		token, err := r.getGithubAppToken(ctx, strings.TrimSuffix(r.gitURL.Repo, ".git"))
		if err != nil {
			r.log.Error("unable to get github app token", "err", err)
			return nil
		}
		username, password = "-", token
	default:
		return nil
	}

	credsLoader, err := r.ensureCredsLoader()
	if err != nil {
		r.log.Error("unable to write load creds script file", "err", err)
		return nil
	}

	return []string{
		"GIT_ASKPASS=" + credsLoader,
		"REPO_USERNAME=" + username,
		"REPO_PASSWORD=" + password,
	}
}

func (r *Repository) ensureCredsLoader() (string, error) {
	credsLoader := filepath.Join(r.bareDir, "worktree-sync-creds-loader.sh")
	if _, err := os.Stat(credsLoader); err == nil {
		return credsLoader, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("unable to check if script file exists: %w", err)
	}
	if err := os.WriteFile(credsLoader, []byte(loadCredsScript), 0o750); err != nil {
		return "", err
	}
	return credsLoader, nil
}

func (r *Repository) gitSSHCommand() string {
	sshKeyPath := r.cfg.Auth.SSHKeyPath
	if sshKeyPath == "" {
		sshKeyPath = "/dev/null"
	}
	knownHostsOptions := "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"
	if r.cfg.Auth.SSHKeyPath != "" && r.cfg.Auth.SSHKnownHostsPath != "" {
		knownHostsOptions = "-o UserKnownHostsFile=" + r.cfg.Auth.SSHKnownHostsPath
	}
	return fmt.Sprintf("GIT_SSH_COMMAND=ssh -q -F none -o IdentitiesOnly=yes -o IdentityFile=%s %s", sshKeyPath, knownHostsOptions)
}

func (r *Repository) getGithubAppToken(ctx context.Context, repo string) (string, error) {
	if r.githubAppTokenExpiresAt.After(time.Now().UTC().Add(10 * time.Minute)) {
		return r.githubAppToken, nil
	}

	token, err := auth.GithubAppInstallationToken(ctx,
		r.cfg.Auth.GithubAppID, r.cfg.Auth.GithubAppInstallationID, r.cfg.Auth.GithubAppPrivateKeyPath,
		auth.GithubAppTokenReqPermissions{
			Repositories: []string{repo},
			Permissions:  map[string]string{"contents": "read"},
		})
	if err != nil {
		return "", err
	}

	r.githubAppToken = token.Token
	r.githubAppTokenExpiresAt = token.ExpiresAt
	r.log.Debug("new github app access token created")
	return r.githubAppToken, nil
}
