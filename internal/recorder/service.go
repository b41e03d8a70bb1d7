package recorder

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/BetterCallFirewall/postcap/internal/models"
	"github.com/BetterCallFirewall/postcap/internal/postman"
)

// Default capture settings.
const (
	DefaultHost           = "example.com"
	DefaultCollectionName = "collection_name"
)

// Options configure the recording service. Zero values fall back to
// the defaults above, uuid ids, stdout and the default logger.
type Options struct {
	Host           string
	CollectionName string
	OutputDir      string
	NewID          postman.IDFunc
	Console        io.Writer
	Logger         *slog.Logger
}

// Service serializes access to a Recorder and swaps in a fresh one
// when the capture settings change.
type Service struct {
	mu      sync.Mutex
	rec     *Recorder
	host    string
	name    string
	dir     string
	newID   postman.IDFunc
	console io.Writer
	logger  *slog.Logger
}

func NewService(opts Options) *Service {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.CollectionName == "" {
		opts.CollectionName = DefaultCollectionName
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.NewID == nil {
		opts.NewID = postman.RandomID
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		host:    opts.Host,
		name:    opts.CollectionName,
		dir:     opts.OutputDir,
		newID:   opts.NewID,
		console: opts.Console,
		logger:  opts.Logger.With("component", "recorder"),
	}
	s.rec = New(s.host, s.name, s.dir, s.newID, s.console)
	s.logger.Info("recording", "host_filter", s.host, "collection_name", s.name)
	return s
}

// Observe records one captured request. Observations are serialized.
func (s *Service) Observe(req models.ObservedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Observe(req)
}

// Reconfigure applies new capture settings. Any change drops the whole
// recording state and starts a fresh collection; the swap is atomic
// under the lock. Reports whether a swap took place.
func (s *Service) Reconfigure(host, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if host == s.host && name == s.name {
		return false
	}
	s.host = host
	s.name = name
	s.rec = New(s.host, s.name, s.dir, s.newID, s.console)
	s.logger.Info("capture settings changed, starting a fresh collection",
		"host_filter", s.host, "collection_name", s.name)
	return true
}

// Settings returns the current host filter and collection name.
func (s *Service) Settings() (host, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.name
}

// Target returns the host currently being recorded.
func (s *Service) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// CollectionJSON renders the current collection document exactly as it
// is persisted.
func (s *Service) CollectionJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	if err := s.rec.Collection().WriteJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
