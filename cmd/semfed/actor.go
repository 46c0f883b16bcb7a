package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/c360studio/semfed/proof"
	"github.com/c360studio/semfed/store"
)

// actorSpec is what actor create needs to provision one local actor.
type actorSpec struct {
	Username string
	Name     string
	Summary  string
	Domain   string
	KeyBits  int
	Locked   bool
}

func runActorCreate(configPath, logLevel string, spec actorSpec) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	username := strings.ToLower(strings.TrimSpace(spec.Username))
	if !validUsername(username) {
		return fmt.Errorf("invalid username %q: use a-z, 0-9, dot, underscore, hyphen", spec.Username)
	}

	domain := spec.Domain
	if domain == "" {
		domain = cfg.Federation.PrimaryDomain()
	}
	if !slices.Contains(cfg.Federation.Domains, domain) {
		return fmt.Errorf("domain %s is not in federation.domains", domain)
	}

	st, err := store.Open(cfg.Storage.Path,
		store.WithLocalDomains(cfg.Federation.Domains),
		store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, _, err := st.ActorByUsername(ctx, username); err == nil {
		return fmt.Errorf("actor %q already exists", username)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	base := "https://" + domain + "/users/" + username
	ref, err := st.GetOrCreateReference(ctx, base)
	if err != nil {
		return err
	}
	if ref.Tombstoned() {
		return fmt.Errorf("%s is tombstoned; deleted identifiers are never reissued", base)
	}

	inbox, err := st.GetOrCreateReference(ctx, base+"/inbox")
	if err != nil {
		return err
	}
	outbox, err := st.GetOrCreateReference(ctx, base+"/outbox")
	if err != nil {
		return err
	}
	followers, err := st.GetOrCreateReference(ctx, base+"/followers")
	if err != nil {
		return err
	}
	following, err := st.GetOrCreateReference(ctx, base+"/following")
	if err != nil {
		return err
	}
	shared, err := st.GetOrCreateReference(ctx, "https://"+domain+"/inbox")
	if err != nil {
		return err
	}

	publicPEM, privatePEM, err := proof.GenerateKeyPEM(spec.KeyBits)
	if err != nil {
		return err
	}
	keyID := base + "#main-key"
	if err := st.CreateLocalKey(ctx, &store.LocalKey{
		ReferenceID: ref.ID,
		KeyID:       keyID,
		PublicPEM:   publicPEM,
		PrivatePEM:  privatePEM,
	}); err != nil {
		return err
	}

	if err := st.UpsertActor(ctx, &store.Actor{
		ReferenceID:               ref.ID,
		Type:                      "Person",
		PreferredUsername:         username,
		Name:                      spec.Name,
		Summary:                   spec.Summary,
		InboxID:                   &inbox.ID,
		OutboxID:                  &outbox.ID,
		FollowersID:               &followers.ID,
		FollowingID:               &following.ID,
		SharedInboxID:             &shared.ID,
		PublicKeyID:               keyID,
		PublicKeyPEM:              publicPEM,
		ManuallyApprovesFollowers: spec.Locked,
	}); err != nil {
		return err
	}

	fmt.Printf("Created actor acct:%s@%s\n", username, domain)
	fmt.Printf("  id:  %s\n", base)
	fmt.Printf("  key: %s\n", keyID)
	return nil
}

// validUsername accepts names that survive both a URI path segment and
// a webfinger acct without escaping.
func validUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
