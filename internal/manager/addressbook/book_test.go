package addressbook

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kyson/hostbridge/internal/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	bob   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	carol = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

func newManager(t *testing.T) (*Manager, *events.Queue) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "addressbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	q := events.NewQueue()
	return New(store, q), q
}

func add(t *testing.T, m *Manager, name, address string) Item {
	t.Helper()
	res, err := m.Add(context.Background(), itemIn{Name: name, Address: address})
	require.NoError(t, err)
	return res.Data.(Item)
}

func items(t *testing.T, m *Manager) []Item {
	t.Helper()
	res, err := m.Items(context.Background())
	require.NoError(t, err)
	return res.Data.([]Item)
}

func TestAdd_ChecksumsAndQueuesEvent(t *testing.T) {
	m, q := newManager(t)

	item := add(t, m, "  Alice ", strings.ToLower(alice))

	assert.Equal(t, "Alice", item.Name)
	assert.Equal(t, alice, item.Address)
	assert.NotEmpty(t, item.GUID)

	got := q.Pop()
	require.Len(t, got, 1)
	assert.Equal(t, events.AddressBookChanged, got[0].Type)
	assert.Equal(t, []Item{item}, got[0].Value)
}

func TestAdd_Validation(t *testing.T) {
	m, q := newManager(t)
	add(t, m, "Alice", alice)
	q.Pop()
	ctx := context.Background()

	_, err := m.Add(ctx, itemIn{Name: " ", Address: bob})
	assert.ErrorIs(t, err, ErrNameRequired)
	_, err = m.Add(ctx, itemIn{Name: strings.Repeat("x", 65), Address: bob})
	assert.ErrorIs(t, err, ErrNameTooLong)
	_, err = m.Add(ctx, itemIn{Name: "Bob", Address: "0x1234"})
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = m.Add(ctx, itemIn{Name: "alice", Address: bob})
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, err = m.Add(ctx, itemIn{Name: "Other", Address: strings.ToUpper("0x" + alice[2:])})
	assert.ErrorIs(t, err, ErrDuplicateAddr)

	assert.Zero(t, q.Len())
	assert.Len(t, items(t, m), 1)
}

func TestEditDeleteFind(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	a := add(t, m, "Alice", alice)
	b := add(t, m, "Bob", bob)

	_, err := m.Edit(ctx, itemIn{ItemGUID: b.GUID, Name: "Alice", Address: bob})
	assert.ErrorIs(t, err, ErrDuplicateName)

	res, err := m.Edit(ctx, itemIn{ItemGUID: a.GUID, Name: "Alice Cooper", Address: alice})
	require.NoError(t, err, "editing an item may keep its own address")
	assert.Equal(t, "Alice Cooper", res.Data.(Item).Name)

	_, err = m.Edit(ctx, itemIn{ItemGUID: "missing", Name: "Zed", Address: carol})
	assert.ErrorIs(t, err, errNotFound)

	res, _ = m.FindByAddress(ctx, findIn{Address: strings.ToLower(bob)})
	assert.Equal(t, b.GUID, res.Data.(*Item).GUID)
	res, _ = m.FindByID(ctx, findIn{GUID: a.GUID})
	assert.Equal(t, "Alice Cooper", res.Data.(*Item).Name)
	res, _ = m.FindByID(ctx, findIn{GUID: "nope"})
	assert.Nil(t, res.Data.(*Item))

	_, err = m.Delete(ctx, itemIn{ItemGUID: a.GUID})
	require.NoError(t, err)
	_, err = m.Delete(ctx, itemIn{ItemGUID: a.GUID})
	assert.ErrorIs(t, err, errNotFound)

	res, _ = m.HasItems(ctx)
	assert.Equal(t, true, res.Data)
}

func TestValidate(t *testing.T) {
	m, _ := newManager(t)
	a := add(t, m, "Alice", alice)
	ctx := context.Background()

	res, _ := m.Validate(ctx, validateIn{Name: "Alice", Address: bob})
	assert.Equal(t, validation{Error: ErrDuplicateName.Error()}, res.Data)

	res, _ = m.Validate(ctx, validateIn{Name: "Alice", Address: alice, ExcludeItemGUID: a.GUID})
	assert.Equal(t, validation{IsValid: true}, res.Data)
}

func TestImport(t *testing.T) {
	m, q := newManager(t)
	add(t, m, "Alice", alice)
	q.Pop()

	res, err := m.Import(context.Background(), textIn{Text: `[
		{"name": "Bob", "address": "` + bob + `"},
		{"name": "Alice 2", "address": "` + alice + `"},
		{"name": "Bob", "address": "` + carol + `"},
		{"name": "Carol", "address": "` + carol + `"}
	]`})

	require.NoError(t, err)
	data := res.Data.(importData)
	assert.Equal(t, 2, data.Imported)
	assert.Equal(t, 2, data.Skipped)
	assert.Equal(t, 1, data.Problems[0].Index)
	assert.Equal(t, ErrDuplicateAddr.Error(), data.Problems[0].Error)
	assert.Equal(t, ErrDuplicateName.Error(), data.Problems[1].Error)

	names := []string{}
	for _, it := range items(t, m) {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names)
	assert.Equal(t, 1, q.Len())

	_, err = m.Import(context.Background(), textIn{Text: "not json"})
	assert.ErrorIs(t, err, ErrBadImport)
}

func TestReplace(t *testing.T) {
	m, _ := newManager(t)
	add(t, m, "Alice", alice)
	ctx := context.Background()

	_, err := m.Replace(ctx, textIn{Text: `[{"name":"Bob","address":"` + bob + `"},{"name":"Bob","address":"` + carol + `"}]`})
	assert.ErrorIs(t, err, ErrBadImport)
	assert.Len(t, items(t, m), 1, "a rejected replace leaves the book alone")

	_, err = m.Replace(ctx, textIn{Text: `[{"name":"Bob","address":"` + bob + `"},{"name":"Carol","address":"` + carol + `"}]`})
	require.NoError(t, err)
	got := items(t, m)
	require.Len(t, got, 2)
	assert.Equal(t, "Bob", got[0].Name)
}

func TestReorder(t *testing.T) {
	m, _ := newManager(t)
	a := add(t, m, "Alice", alice)
	b := add(t, m, "Bob", bob)
	c := add(t, m, "Carol", carol)
	ctx := context.Background()

	res, err := m.Reorder(ctx, reorderIn{ReorderedItems: []Item{c, a, b}})
	require.NoError(t, err)
	assert.Equal(t, []Item{c, a, b}, res.Data)
	assert.Equal(t, []Item{c, a, b}, items(t, m))

	_, err = m.Reorder(ctx, reorderIn{ReorderedItems: []Item{a, b}})
	assert.ErrorIs(t, err, ErrReorderMismatch)
	_, err = m.Reorder(ctx, reorderIn{ReorderedItems: []Item{a, a, b}})
	assert.ErrorIs(t, err, ErrReorderMismatch)
}

func TestValidateImport(t *testing.T) {
	m, q := newManager(t)
	ctx := context.Background()

	res, _ := m.ValidateImport(ctx, textIn{Text: `[{"name":"Bob","address":"` + bob + `"}]`})
	assert.Equal(t, importCheck{IsValid: true, Count: 1, Problems: []ImportProblem{}}, res.Data)

	res, _ = m.ValidateImport(ctx, textIn{Text: "{"})
	assert.False(t, res.Data.(importCheck).IsValid)
	assert.NotEmpty(t, res.Data.(importCheck).Error)

	assert.Empty(t, items(t, m))
	assert.Zero(t, q.Len())
}
