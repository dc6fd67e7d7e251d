package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const (
	SessionsPathKey    = "sessions.path"
	sessionsFileMode   = 0o600
	sessionsDirMode    = 0o700
	sessionsConfigDir  = ".bidbot"
	sessionsConfigFile = "sessions.toml"
	tempFilePattern    = ".sessions-*.toml.tmp"
)

// Repository keeps session definitions in a single TOML file. Credentials
// are stored as secret references only.
type Repository struct {
	sessionsPath string
	mu           *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.SessionRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	cfg.SetDefault(SessionsPathKey, filepath.Join(homeDir, sessionsConfigDir, sessionsConfigFile))

	sessionsPath := cfg.GetString(SessionsPathKey)
	if sessionsPath == "" {
		return nil, errors.New("sessions path is empty")
	}
	sessionsPath, err = normalizeSessionsPath(sessionsPath)
	if err != nil {
		return nil, err
	}

	return &Repository{sessionsPath: sessionsPath, mu: lockForPath(sessionsPath)}, nil
}

func (r *Repository) Path() string {
	return r.sessionsPath
}

func (r *Repository) Save(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(session)
	updated := false
	for i := range file.Sessions {
		if file.Sessions[i].ID == encoded.ID {
			file.Sessions[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Sessions = append(file.Sessions, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) Delete(ctx context.Context, id domain.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	kept := file.Sessions[:0]
	found := false
	for _, entry := range file.Sessions {
		if entry.ID == string(id) {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return domain.ErrSessionNotFound
	}
	file.Sessions = kept

	return r.writeSchema(file)
}

func (r *Repository) GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.Session{}, err
	}

	for _, entry := range file.Sessions {
		if entry.ID == string(id) {
			return fromSchema(entry)
		}
	}

	return domain.Session{}, domain.ErrSessionNotFound
}

func (r *Repository) List(ctx context.Context) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(file.Sessions))
	for _, entry := range file.Sessions {
		session, err := fromSchema(entry)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.sessionsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read sessions file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode sessions file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizeSessionsPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve sessions path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.sessionsPath), sessionsDirMode); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode sessions file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.sessionsPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp sessions file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp sessions file: %w", err)
	}

	if err := tempFile.Chmod(sessionsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp sessions file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp sessions file: %w", err)
	}

	if err := os.Rename(tempName, r.sessionsPath); err != nil {
		return fmt.Errorf("replace sessions file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(r.sessionsPath, sessionsFileMode); err != nil {
		return fmt.Errorf("chmod sessions file: %w", err)
	}

	return nil
}

func toSchema(session domain.Session) sessionSchema {
	b := session.Bidding
	return sessionSchema{
		ID:        string(session.ID),
		Name:      session.Name,
		AutoStart: session.AutoStart,
		CreatedAt: formatTime(session.CreatedAt),
		UpdatedAt: formatTime(session.UpdatedAt),
		Credentials: credentialsSchema{
			MarketplaceTokenRef: session.Credentials.MarketplaceTokenRef,
			LLMAPIKeyRef:        session.Credentials.LLMAPIKeyRef,
		},
		Bidding: biddingSchema{
			BidLimit:          b.BidLimit,
			SearchLimit:       b.SearchLimit,
			SearchInterval:    b.SearchInterval.String(),
			MinWaitTime:       b.MinWaitTime.String(),
			ContractType:      string(b.ContractType),
			SkillIDs:          b.SkillIDs,
			LanguageCodes:     b.LanguageCodes,
			BlockedCurrencies: b.BlockedCurrencies,
			BlockedCountries:  b.BlockedCountries,
			MinFixedBudget:    b.MinFixedBudget,
			SealBids:          b.SealBids,
		},
		Preferences: preferencesSchema{
			ServiceOfferings: session.Preferences.ServiceOfferings,
			WritingStyle:     session.Preferences.WritingStyle,
			PortfolioLinks:   session.Preferences.PortfolioLinks,
			Signature:        session.Preferences.Signature,
		},
	}
}

func fromSchema(entry sessionSchema) (domain.Session, error) {
	interval, err := parseDuration(entry.Bidding.SearchInterval)
	if err != nil {
		return domain.Session{}, fmt.Errorf("decode session %s search_interval: %w", entry.ID, err)
	}
	minWait, err := parseDuration(entry.Bidding.MinWaitTime)
	if err != nil {
		return domain.Session{}, fmt.Errorf("decode session %s min_wait_time: %w", entry.ID, err)
	}

	return domain.Session{
		ID:        domain.SessionID(entry.ID),
		Name:      entry.Name,
		AutoStart: entry.AutoStart,
		CreatedAt: parseTime(entry.CreatedAt),
		UpdatedAt: parseTime(entry.UpdatedAt),
		Credentials: domain.Credentials{
			MarketplaceTokenRef: entry.Credentials.MarketplaceTokenRef,
			LLMAPIKeyRef:        entry.Credentials.LLMAPIKeyRef,
		},
		Bidding: domain.BiddingConfig{
			BidLimit:          entry.Bidding.BidLimit,
			SearchLimit:       entry.Bidding.SearchLimit,
			SearchInterval:    interval,
			MinWaitTime:       minWait,
			ContractType:      domain.ContractType(entry.Bidding.ContractType),
			SkillIDs:          entry.Bidding.SkillIDs,
			LanguageCodes:     entry.Bidding.LanguageCodes,
			BlockedCurrencies: entry.Bidding.BlockedCurrencies,
			BlockedCountries:  entry.Bidding.BlockedCountries,
			MinFixedBudget:    entry.Bidding.MinFixedBudget,
			SealBids:          entry.Bidding.SealBids,
		},
		Preferences: domain.BidPreferences{
			ServiceOfferings: entry.Preferences.ServiceOfferings,
			WritingStyle:     entry.Preferences.WritingStyle,
			PortfolioLinks:   entry.Preferences.PortfolioLinks,
			Signature:        entry.Preferences.Signature,
		},
	}, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339)
}
