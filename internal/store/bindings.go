package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"tg_group_warden_bot/internal/domain"
)

// fileDocument is the on-disk envelope. The whitelist persists each exemption
// set as a plain array; Bindings loads it back into deduplicated map-sets.
type fileDocument struct {
	Bindings  map[string]domain.Binding `json:"bindings"`
	Whitelist map[string][]string       `json:"whitelist"`
}

// Bindings is the file-backed store for group bindings and exemption sets.
// The whole file is loaded once at construction and rewritten wholesale after
// every mutation; writes go to a temp file in the same directory followed by
// an atomic rename, so a crashed write never leaves a corrupt file behind.
//
// A failed persist is returned to the caller as a hard error and the mutation
// is rolled back in memory, keeping the file authoritative.
type Bindings struct {
	mu        sync.Mutex
	path      string
	bindings  map[string]domain.Binding
	whitelist map[string]map[string]struct{}
}

// OpenBindings loads the store from path, creating the parent directory when
// missing. A missing file yields an empty store.
func OpenBindings(path string) (*Bindings, error) {
	if path == "" {
		return nil, errors.New("bindings store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bindings store directory: %w", err)
	}

	s := &Bindings{
		path:      path,
		bindings:  make(map[string]domain.Binding),
		whitelist: make(map[string]map[string]struct{}),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read bindings store: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode bindings store: %w", err)
	}

	for source, binding := range doc.Bindings {
		if binding.InactiveMonths <= 0 {
			binding.InactiveMonths = domain.DefaultInactiveMonths
		}
		binding.SourceGroupID = source
		s.bindings[source] = binding
	}

	for target, members := range doc.Whitelist {
		set := make(map[string]struct{}, len(members))
		for _, member := range members {
			set[member] = struct{}{}
		}
		s.whitelist[target] = set
	}

	return s, nil
}

// Path returns the backing file path.
func (s *Bindings) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Check reports whether the store is usable; the health endpoint calls it.
func (s *Bindings) Check() error {
	if s == nil {
		return errors.New("bindings store is not initialized")
	}
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("bindings store directory: %w", err)
	}
	return nil
}

// Bind inserts or overwrites the binding for source with the default
// inactivity threshold and persists the store.
func (s *Bindings) Bind(source, target string) error {
	if s == nil {
		return errors.New("bindings store is not initialized")
	}
	if source == "" || target == "" {
		return errors.New("source and target group ids are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.bindings[source]
	s.bindings[source] = domain.Binding{
		SourceGroupID:  source,
		TargetGroupID:  target,
		InactiveMonths: domain.DefaultInactiveMonths,
	}

	if err := s.persistLocked(); err != nil {
		if existed {
			s.bindings[source] = previous
		} else {
			delete(s.bindings, source)
		}
		return err
	}

	return nil
}

// Unbind removes the binding for source and cascades deletion of the target's
// exemption set. It reports false without touching the file when no binding
// exists.
func (s *Bindings) Unbind(source string) (bool, error) {
	if s == nil {
		return false, errors.New("bindings store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	binding, ok := s.bindings[source]
	if !ok {
		return false, nil
	}

	exemptions, hadExemptions := s.whitelist[binding.TargetGroupID]

	delete(s.bindings, source)
	delete(s.whitelist, binding.TargetGroupID)

	if err := s.persistLocked(); err != nil {
		s.bindings[source] = binding
		if hadExemptions {
			s.whitelist[binding.TargetGroupID] = exemptions
		}
		return false, err
	}

	return true, nil
}

// SetInactiveMonths updates the threshold for source's binding. It reports
// false when source has no binding. Months must already be validated > 0 at
// the command boundary.
func (s *Bindings) SetInactiveMonths(source string, months int) (bool, error) {
	if s == nil {
		return false, errors.New("bindings store is not initialized")
	}
	if months <= 0 {
		return false, fmt.Errorf("inactive months must be greater than 0, got %d", months)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	binding, ok := s.bindings[source]
	if !ok {
		return false, nil
	}

	previous := binding.InactiveMonths
	binding.InactiveMonths = months
	s.bindings[source] = binding

	if err := s.persistLocked(); err != nil {
		binding.InactiveMonths = previous
		s.bindings[source] = binding
		return false, err
	}

	return true, nil
}

// GetBinding returns the binding for source when one exists.
func (s *Bindings) GetBinding(source string) (domain.Binding, bool) {
	if s == nil {
		return domain.Binding{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	binding, ok := s.bindings[source]
	return binding, ok
}

// AddExemption inserts member into target's exemption set, creating the set
// when absent, and persists. Adding an already-present member is a no-op that
// still reports success.
func (s *Bindings) AddExemption(target, member string) error {
	if s == nil {
		return errors.New("bindings store is not initialized")
	}
	if target == "" || member == "" {
		return errors.New("target group id and member id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, existed := s.whitelist[target]
	if !existed {
		set = make(map[string]struct{})
		s.whitelist[target] = set
	}

	if _, present := set[member]; present {
		return nil
	}

	set[member] = struct{}{}

	if err := s.persistLocked(); err != nil {
		delete(set, member)
		if !existed {
			delete(s.whitelist, target)
		}
		return err
	}

	return nil
}

// RemoveExemption removes member from target's exemption set and persists,
// reporting whether the member was present.
func (s *Bindings) RemoveExemption(target, member string) (bool, error) {
	if s == nil {
		return false, errors.New("bindings store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.whitelist[target]
	if !ok {
		return false, nil
	}
	if _, present := set[member]; !present {
		return false, nil
	}

	delete(set, member)

	if err := s.persistLocked(); err != nil {
		set[member] = struct{}{}
		return false, err
	}

	return true, nil
}

// Exemptions returns a copy of target's exemption set, empty when target is
// unknown.
func (s *Bindings) Exemptions(target string) map[string]struct{} {
	if s == nil {
		return map[string]struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{}, len(s.whitelist[target]))
	for member := range s.whitelist[target] {
		set[member] = struct{}{}
	}

	return set
}

func (s *Bindings) persistLocked() error {
	doc := fileDocument{
		Bindings:  s.bindings,
		Whitelist: make(map[string][]string, len(s.whitelist)),
	}

	for target, set := range s.whitelist {
		members := make([]string, 0, len(set))
		for member := range set {
			members = append(members, member)
		}
		sort.Strings(members)
		doc.Whitelist[target] = members
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bindings store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create bindings store temp file: %w", err)
	}

	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write bindings store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close bindings store temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace bindings store: %w", err)
	}

	return nil
}
