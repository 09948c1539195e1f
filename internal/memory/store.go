package memory

import (
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opsmend/opsmend/internal/metrics"
	"github.com/opsmend/opsmend/internal/models"
)

// ErrNotFound is returned when an incident id is unknown to the store.
var ErrNotFound = errors.New("incident not found")

const dedupWindow = 24 * time.Hour

// Options tune store behaviour.
type Options struct {
	StorageFile         string
	RetentionDays       int
	EnableCompression   bool
	EnableDeduplication bool
	CleanupInterval     time.Duration
	DedupInterval       time.Duration
}

// Stats summarizes the store for operators.
type Stats struct {
	TotalIncidents int                             `json:"total_incidents"`
	ByErrorType    map[string]int                  `json:"by_error_type"`
	BySeverity     map[models.Severity]int         `json:"by_severity"`
	ByResolution   map[models.ResolutionStatus]int `json:"by_resolution"`
	OldestIncident time.Time                       `json:"oldest_incident,omitempty"`
	NewestIncident time.Time                       `json:"newest_incident,omitempty"`
	RecentIDs      []string                        `json:"recent_ids,omitempty"`
}

// Store is the durable incident memory. All access is serialized through one
// mutex; every mutation rewrites the storage file so a crash never loses
// more than the in-flight operation.
type Store struct {
	logger *slog.Logger
	opts   Options
	now    func() time.Time

	mu        sync.Mutex
	incidents []*models.Incident
	byID      map[string]*models.Incident

	stop chan struct{}
	done sync.WaitGroup
}

// NewStore opens (or creates) the incident store. A corrupt storage file is
// logged and replaced with an empty store rather than failing startup.
func NewStore(logger *slog.Logger, opts Options) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 365
	}

	s := &Store{
		logger: logger,
		opts:   opts,
		now:    time.Now,
		byID:   make(map[string]*models.Incident),
		stop:   make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	metrics.SetStoreSize(len(s.incidents))
	return s, nil
}

// Start launches the background retention and deduplication loops. They run
// until ctx is cancelled or Close is called.
func (s *Store) Start(ctx context.Context) {
	if s.opts.CleanupInterval > 0 {
		s.done.Add(1)
		go s.loop(ctx, s.opts.CleanupInterval, func() {
			if removed := s.Cleanup(); removed > 0 {
				s.logger.Info("retention cleanup", slog.Int("removed", removed))
			}
		})
	}
	if s.opts.EnableDeduplication && s.opts.DedupInterval > 0 {
		s.done.Add(1)
		go s.loop(ctx, s.opts.DedupInterval, func() {
			if marked := s.Deduplicate(); marked > 0 {
				s.logger.Info("deduplication pass", slog.Int("marked", marked))
			}
		})
	}
}

func (s *Store) loop(ctx context.Context, interval time.Duration, fn func()) {
	defer s.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Close stops the background loops and waits for them to drain.
func (s *Store) Close() {
	close(s.stop)
	s.done.Wait()
}

// Store records an incident built from a triaged log entry and returns its
// id. When deduplication is enabled and a recent incident of the same type
// and severity has near-identical message tokens, the new incident is
// suppressed: the fresh id is still returned but nothing is persisted.
func (s *Store) Store(entry models.LogEntry, classification models.Classification, fixes []models.FixCandidate, patches []models.PatchSummary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	incident := &models.Incident{
		ID:               incidentID(entry.Message, classification, now),
		Timestamp:        now,
		LogEntry:         entry,
		Classification:   classification,
		Fixes:            fixes,
		Patches:          patches,
		ResolutionStatus: models.ResolutionPending,
		Metadata:         map[string]string{},
	}

	if s.opts.EnableDeduplication {
		if existing := s.recentDuplicateLocked(incident, now); existing != nil {
			s.logger.Debug("incident suppressed as duplicate",
				slog.String("incident_id", incident.ID),
				slog.String("duplicate_of", existing.ID))
			metrics.ObserveIncidentSuppressed()
			return incident.ID, nil
		}
	}

	s.incidents = append(s.incidents, incident)
	s.byID[incident.ID] = incident

	if err := s.saveLocked(); err != nil {
		return "", fmt.Errorf("persist incident: %w", err)
	}
	metrics.ObserveIncidentStored(len(s.incidents))
	return incident.ID, nil
}

// Get returns a copy of the incident with the given id.
func (s *Store) Get(id string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *incident
	return &clone, nil
}

// Search returns incidents matching the query, newest first.
func (s *Store) Search(query models.IncidentQuery) []*models.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Incident
	for _, incident := range s.incidents {
		if !matchesQuery(incident, query) {
			continue
		}
		clone := *incident
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched
}

// SimilarTo returns stored incidents whose similarity to the given incident
// meets the threshold, most similar first. The incident itself is excluded;
// limit <= 0 means unlimited.
func (s *Store) SimilarTo(incident *models.Incident, threshold float64, limit int) []*models.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		incident *models.Incident
		score    float64
	}
	var results []scored
	for _, candidate := range s.incidents {
		if candidate.ID == incident.ID {
			continue
		}
		if score := similarity(incident, candidate); score >= threshold {
			clone := *candidate
			results = append(results, scored{&clone, score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]*models.Incident, len(results))
	for i, r := range results {
		out[i] = r.incident
	}
	return out
}

// UpdateResolution transitions an incident's resolution status.
func (s *Store) UpdateResolution(id string, status models.ResolutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	incident.ResolutionStatus = status
	return s.saveLocked()
}

// Stats summarizes the current store contents.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalIncidents: len(s.incidents),
		ByErrorType:    make(map[string]int),
		BySeverity:     make(map[models.Severity]int),
		ByResolution:   make(map[models.ResolutionStatus]int),
	}
	for _, incident := range s.incidents {
		stats.ByErrorType[incident.Classification.ErrorType]++
		stats.BySeverity[incident.Classification.Severity]++
		stats.ByResolution[incident.ResolutionStatus]++
		if stats.OldestIncident.IsZero() || incident.Timestamp.Before(stats.OldestIncident) {
			stats.OldestIncident = incident.Timestamp
		}
		if incident.Timestamp.After(stats.NewestIncident) {
			stats.NewestIncident = incident.Timestamp
		}
	}
	for i := len(s.incidents) - 1; i >= 0 && len(stats.RecentIDs) < 5; i-- {
		stats.RecentIDs = append(stats.RecentIDs, s.incidents[i].ID)
	}
	return stats
}

// Cleanup drops incidents older than the retention window and reports how
// many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().AddDate(0, 0, -s.opts.RetentionDays)
	kept := s.incidents[:0]
	removed := 0
	for _, incident := range s.incidents {
		if incident.Timestamp.Before(cutoff) {
			delete(s.byID, incident.ID)
			removed++
			continue
		}
		kept = append(kept, incident)
	}
	s.incidents = kept

	if removed > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Error("persist after cleanup failed", slog.Any("error", err))
		}
		metrics.SetStoreSize(len(s.incidents))
	}
	return removed
}

// Deduplicate groups incidents by error type and severity, walks each group
// newest first, and marks the older of each near-identical adjacent pair as
// a duplicate of the newer. Returns the number of incidents marked.
func (s *Store) Deduplicate() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]*models.Incident)
	for _, incident := range s.incidents {
		if incident.ResolutionStatus == models.ResolutionDuplicate {
			continue
		}
		key := incident.Classification.ErrorType + "|" + string(incident.Classification.Severity)
		groups[key] = append(groups[key], incident)
	}

	marked := 0
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.After(group[j].Timestamp)
		})
		for i := 0; i+1 < len(group); i++ {
			newer, older := group[i], group[i+1]
			if older.ResolutionStatus == models.ResolutionDuplicate {
				continue
			}
			overlap := jaccard(tokenize(newer.LogEntry.Message), tokenize(older.LogEntry.Message))
			if overlap > 0.8 {
				older.ResolutionStatus = models.ResolutionDuplicate
				if older.Metadata == nil {
					older.Metadata = map[string]string{}
				}
				older.Metadata["duplicate_of"] = newer.ID
				marked++
			}
		}
	}

	if marked > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Error("persist after deduplication failed", slog.Any("error", err))
		}
	}
	return marked
}

// Clear drops every incident and truncates the storage file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = nil
	s.byID = make(map[string]*models.Incident)
	metrics.SetStoreSize(0)
	return s.saveLocked()
}

// Size reports the number of stored incidents.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.incidents)
}

// recentDuplicateLocked finds an incident within the dedup window with the
// same type and severity whose message tokens overlap above 0.8.
func (s *Store) recentDuplicateLocked(incident *models.Incident, now time.Time) *models.Incident {
	cutoff := now.Add(-dedupWindow)
	tokens := tokenize(incident.LogEntry.Message)
	for i := len(s.incidents) - 1; i >= 0; i-- {
		candidate := s.incidents[i]
		if candidate.Timestamp.Before(cutoff) {
			break
		}
		if candidate.Classification.ErrorType != incident.Classification.ErrorType {
			continue
		}
		if candidate.Classification.Severity != incident.Classification.Severity {
			continue
		}
		if jaccard(tokens, tokenize(candidate.LogEntry.Message)) > 0.8 {
			return candidate
		}
	}
	return nil
}

func matchesQuery(incident *models.Incident, query models.IncidentQuery) bool {
	if query.ErrorType != "" && incident.Classification.ErrorType != query.ErrorType {
		return false
	}
	if query.Severity != "" && incident.Classification.Severity != query.Severity {
		return false
	}
	if !query.StartTime.IsZero() && incident.Timestamp.Before(query.StartTime) {
		return false
	}
	if !query.EndTime.IsZero() && incident.Timestamp.After(query.EndTime) {
		return false
	}
	if query.Message != "" &&
		!strings.Contains(strings.ToLower(incident.LogEntry.Message), strings.ToLower(query.Message)) {
		return false
	}
	for _, want := range query.Components {
		found := false
		for _, have := range incident.Classification.Components {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) load() error {
	if s.opts.StorageFile == "" {
		return nil
	}
	data, err := os.ReadFile(s.opts.StorageFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open storage file: %w", err)
	}

	if s.opts.EnableCompression {
		gz, err := gzip.NewReader(strings.NewReader(string(data)))
		if err == nil {
			if decompressed, err := io.ReadAll(gz); err == nil {
				data = decompressed
			}
			gz.Close()
		}
	}

	var incidents []*models.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		// Older store versions wrapped the array in an object.
		var legacy struct {
			Incidents []*models.Incident `json:"incidents"`
		}
		if err := json.Unmarshal(data, &legacy); err != nil {
			s.logger.Warn("storage file corrupt, starting empty",
				slog.String("path", s.opts.StorageFile), slog.Any("error", err))
			return nil
		}
		incidents = legacy.Incidents
	}

	s.incidents = incidents
	sort.Slice(s.incidents, func(i, j int) bool {
		return s.incidents[i].Timestamp.Before(s.incidents[j].Timestamp)
	})
	for _, incident := range s.incidents {
		s.byID[incident.ID] = incident
	}
	return nil
}

// saveLocked rewrites the whole storage file as one JSON array of incidents.
// Caller holds the mutex.
func (s *Store) saveLocked() error {
	if s.opts.StorageFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.StorageFile), 0o755); err != nil {
		return err
	}

	incidents := s.incidents
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	payload, err := json.MarshalIndent(incidents, "", "  ")
	if err != nil {
		return err
	}

	if s.opts.EnableCompression {
		var b strings.Builder
		gz := gzip.NewWriter(&b)
		if _, err := gz.Write(payload); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
		payload = []byte(b.String())
	}

	tmp := s.opts.StorageFile + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.opts.StorageFile)
}

// incidentID derives a stable content hash suffixed with the store time so
// recurring errors get distinct ids.
func incidentID(message string, classification models.Classification, now time.Time) string {
	content := fmt.Sprintf("%s|%s|%s|%s",
		message, classification.ErrorType, classification.Severity,
		strings.Join(classification.RulesApplied, ","))
	sum := md5.Sum([]byte(content))
	return fmt.Sprintf("%x_%d", sum[:4], now.Unix())
}
