// Package addressbook keeps named Ethereum addresses in SQLite and
// announces every change on the event queue.
package addressbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/events"
	"github.com/kyson/hostbridge/internal/manager/crypto"
)

const maxNameLength = 64

var (
	ErrNameRequired    = errors.New("Name is required")
	ErrNameTooLong     = fmt.Errorf("Name must be at most %d characters", maxNameLength)
	ErrInvalidAddress  = errors.New("Invalid address")
	ErrDuplicateName   = errors.New("An item with this name already exists")
	ErrDuplicateAddr   = errors.New("An item with this address already exists")
	ErrBadImport       = errors.New("Invalid import data")
	ErrReorderMismatch = errors.New("Reordered items do not match the address book")
)

// Item is one address book entry.
type Item struct {
	GUID    string `json:"guid"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Manager struct {
	store  *Store
	events *events.Queue

	// mu makes validate-then-write atomic.
	mu sync.Mutex
}

func New(store *Store, queue *events.Queue) *Manager {
	return &Manager{store: store, events: queue}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"crypto2addAddressBookItem":           bridge.Typed(m.Add),
		"crypto2editAddressBookItem":          bridge.Typed(m.Edit),
		"crypto2deleteAddressBookItem":        bridge.Typed(m.Delete),
		"crypto2findAddressBookItemByAddress": bridge.Typed(m.FindByAddress),
		"crypto2findAddressBookItemByID":      bridge.Typed(m.FindByID),
		"crypto2hasAddressBookItems":          bridge.NoInput(m.HasItems),
		"crypto2getAddressBookItems":          bridge.NoInput(m.Items),
		"crypto2validateAddressBookItem":      bridge.Typed(m.Validate),
		"crypto2importAddressBookItems":       bridge.Typed(m.Import),
		"crypto2replaceAddressBook":           bridge.Typed(m.Replace),
		"crypto2reorderAddressBook":           bridge.Typed(m.Reorder),
		"crypto2validateAddressBookImport":    bridge.Typed(m.ValidateImport),
	}
}

// changed queues the full list so hosts need not refetch.
func (m *Manager) changed(ctx context.Context) {
	if m.events == nil {
		return
	}
	items, err := m.store.List(ctx)
	if err != nil {
		logger.Warn("Address book reload failed", "error", err)
		return
	}
	m.events.Push(events.AddressBookChanged, items)
}

// normalize trims the name and checksums the address.
func normalize(name, address string) (string, string, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	switch {
	case name == "":
		return "", "", ErrNameRequired
	case utf8.RuneCountInString(name) > maxNameLength:
		return "", "", ErrNameTooLong
	case !crypto.IsAddress(address):
		return "", "", ErrInvalidAddress
	}
	return name, common.HexToAddress(address).Hex(), nil
}

// check validates one candidate against existing items, skipping exclude.
func check(existing []Item, name, address, exclude string) (string, string, error) {
	name, address, err := normalize(name, address)
	if err != nil {
		return "", "", err
	}
	for _, it := range existing {
		if it.GUID == exclude {
			continue
		}
		if strings.EqualFold(it.Name, name) {
			return "", "", ErrDuplicateName
		}
		if strings.EqualFold(it.Address, address) {
			return "", "", ErrDuplicateAddr
		}
	}
	return name, address, nil
}

type itemIn struct {
	ItemGUID string `json:"itemGuid"`
	Name     string `json:"name"`
	Address  string `json:"address"`
}

func (m *Manager) Add(ctx context.Context, in itemIn) (bridge.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	name, address, err := check(existing, in.Name, in.Address, "")
	if err != nil {
		return bridge.Result{}, err
	}
	item := Item{GUID: uuid.NewString(), Name: name, Address: address}
	if err := m.store.Append(ctx, item); err != nil {
		return bridge.Result{}, err
	}
	m.changed(ctx)
	return bridge.Success(item), nil
}

func (m *Manager) Edit(ctx context.Context, in itemIn) (bridge.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	name, address, err := check(existing, in.Name, in.Address, in.ItemGUID)
	if err != nil {
		return bridge.Result{}, err
	}
	item := Item{GUID: in.ItemGUID, Name: name, Address: address}
	if err := m.store.Update(ctx, item); err != nil {
		return bridge.Result{}, err
	}
	m.changed(ctx)
	return bridge.Success(item), nil
}

func (m *Manager) Delete(ctx context.Context, in itemIn) (bridge.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, in.ItemGUID); err != nil {
		return bridge.Result{}, err
	}
	m.changed(ctx)
	return bridge.Success(nil), nil
}

type findIn struct {
	GUID    string `json:"guid"`
	Address string `json:"address"`
}

// FindByAddress answers with the item or null data.
func (m *Manager) FindByAddress(ctx context.Context, in findIn) (bridge.Result, error) {
	item, err := m.store.FindByAddress(ctx, strings.TrimSpace(in.Address))
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(item), nil
}

func (m *Manager) FindByID(ctx context.Context, in findIn) (bridge.Result, error) {
	item, err := m.store.Get(ctx, in.GUID)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(item), nil
}

func (m *Manager) HasItems(ctx context.Context) (bridge.Result, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(n > 0), nil
}

func (m *Manager) Items(ctx context.Context) (bridge.Result, error) {
	items, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(items), nil
}

type validation struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

type validateIn struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	ExcludeItemGUID string `json:"excludeItemGuid"`
}

// Validate checks a candidate without writing. An invalid candidate is
// still a success; the verdict is in the data.
func (m *Manager) Validate(ctx context.Context, in validateIn) (bridge.Result, error) {
	existing, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	if _, _, err := check(existing, in.Name, in.Address, in.ExcludeItemGUID); err != nil {
		return bridge.Success(validation{Error: err.Error()}), nil
	}
	return bridge.Success(validation{IsValid: true}), nil
}

type textIn struct {
	Text string `json:"text"`
}

type importEntry struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ImportProblem ties a rejected import entry to its reason.
type ImportProblem struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Error   string `json:"error"`
}

func parseImport(text string) ([]importEntry, error) {
	var entries []importEntry
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImport, err)
	}
	return entries, nil
}

// plan validates entries in order against base, so duplicates inside the
// import are caught as well.
func plan(base []Item, entries []importEntry) (accepted []Item, problems []ImportProblem) {
	seen := append([]Item(nil), base...)
	problems = []ImportProblem{}
	for i, e := range entries {
		name, address, err := check(seen, e.Name, e.Address, "")
		if err != nil {
			problems = append(problems, ImportProblem{Index: i, Name: e.Name, Address: e.Address, Error: err.Error()})
			continue
		}
		item := Item{GUID: uuid.NewString(), Name: name, Address: address}
		accepted = append(accepted, item)
		seen = append(seen, item)
	}
	return accepted, problems
}

type importData struct {
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Problems []ImportProblem `json:"problems"`
}

// Import appends the valid entries of a JSON array and reports the rest.
func (m *Manager) Import(ctx context.Context, in textIn) (bridge.Result, error) {
	entries, err := parseImport(in.Text)
	if err != nil {
		return bridge.Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	accepted, problems := plan(existing, entries)
	if len(accepted) > 0 {
		if err := m.store.Append(ctx, accepted...); err != nil {
			return bridge.Result{}, err
		}
		m.changed(ctx)
	}
	return bridge.Success(importData{Imported: len(accepted), Skipped: len(problems), Problems: problems}), nil
}

// Replace swaps the whole book. Any invalid entry rejects the lot.
func (m *Manager) Replace(ctx context.Context, in textIn) (bridge.Result, error) {
	entries, err := parseImport(in.Text)
	if err != nil {
		return bridge.Result{}, err
	}
	accepted, problems := plan(nil, entries)
	if len(problems) > 0 {
		p := problems[0]
		return bridge.Result{}, fmt.Errorf("%w: entry %d: %s", ErrBadImport, p.Index, p.Error)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Replace(ctx, accepted); err != nil {
		return bridge.Result{}, err
	}
	m.changed(ctx)
	return bridge.Success(importData{Imported: len(accepted), Problems: problems}), nil
}

type reorderIn struct {
	ReorderedItems []Item `json:"reorderedItems"`
}

// Reorder takes the full list in its new order; only guids matter.
func (m *Manager) Reorder(ctx context.Context, in reorderIn) (bridge.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	if len(in.ReorderedItems) != len(existing) {
		return bridge.Result{}, ErrReorderMismatch
	}
	known := make(map[string]bool, len(existing))
	for _, it := range existing {
		known[it.GUID] = true
	}
	guids := make([]string, 0, len(in.ReorderedItems))
	for _, it := range in.ReorderedItems {
		if !known[it.GUID] {
			return bridge.Result{}, ErrReorderMismatch
		}
		delete(known, it.GUID)
		guids = append(guids, it.GUID)
	}
	if err := m.store.Reorder(ctx, guids); err != nil {
		return bridge.Result{}, err
	}
	m.changed(ctx)
	items, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(items), nil
}

type importCheck struct {
	IsValid  bool            `json:"isValid"`
	Count    int             `json:"count"`
	Problems []ImportProblem `json:"problems"`
	Error    string          `json:"error,omitempty"`
}

// ValidateImport dry-runs Import against the current book.
func (m *Manager) ValidateImport(ctx context.Context, in textIn) (bridge.Result, error) {
	entries, err := parseImport(in.Text)
	if err != nil {
		return bridge.Success(importCheck{Problems: []ImportProblem{}, Error: err.Error()}), nil
	}
	existing, err := m.store.List(ctx)
	if err != nil {
		return bridge.Result{}, err
	}
	accepted, problems := plan(existing, entries)
	return bridge.Success(importCheck{
		IsValid:  len(problems) == 0,
		Count:    len(accepted),
		Problems: problems,
	}), nil
}
