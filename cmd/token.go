package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/flags"
)

const (
	flagUser   = "user"
	flagScopes = "scopes"
)

// TokenCmd mints bearer tokens for the configured jwt auth.
type TokenCmd struct {
	*cmd.BaseCmd
	cfgLoader config.Loader
	user      string
	scopes    []string
}

func NewTokenCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &TokenCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "token --user <id> [--scopes <scope>,...]",
		Short: "Mints a bearer token for jwt auth",
		Long: "Mints an HS256 token signed with [auth].jwt_secret, valid for [auth].token_ttl. " +
			"The configured auth type must be jwt.",
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	cobraCommand.Flags().StringVar(&c.user, flagUser, "", "User ID placed in the token subject")
	cobraCommand.Flags().StringSliceVar(&c.scopes, flagScopes, nil, "Scopes granted by the token (e.g. tools:read,tools:execute)")
	_ = cobraCommand.MarkFlagRequired(flagUser)

	return cobraCommand, nil
}

func (c *TokenCmd) run(cmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	token, err := mintToken(cfg.Auth, c.user, c.scopes)
	if err != nil {
		return err
	}

	logger.Debug("Minted token", "user", c.user, "scopes", c.scopes)

	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}

func mintToken(section config.AuthSection, user string, scopes []string) (string, error) {
	if section.Type != config.AuthJWT {
		return "", fmt.Errorf("tokens can only be minted for jwt auth, configured auth type is %q", section.Type)
	}

	provider, err := auth.NewProvider(section)
	if err != nil {
		return "", err
	}

	jwtProvider, ok := provider.(*auth.JWTProvider)
	if !ok {
		return "", fmt.Errorf("unexpected provider for jwt auth: %T", provider)
	}

	cleaned := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}

	return jwtProvider.Mint(user, cleaned)
}
