package folders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// TreeNode is a folder hierarchy described inline, used for fixtures.
type TreeNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Children []TreeNode `json:"children,omitempty"`
}

// MemoryLister serves a folder hierarchy held in memory. It records every
// page request, supports pagination and injected failures, and allows
// multi-parent folders and cycles.
type MemoryLister struct {
	mu       sync.Mutex
	names    map[string]string
	parents  map[string][]string
	children map[string][]string
	failures map[string]error
	pageSize int
	calls    []string
}

// NewMemoryLister builds a lister whose root folder rootID holds nodes.
func NewMemoryLister(rootID string, nodes []TreeNode) *MemoryLister {
	m := &MemoryLister{
		names:    make(map[string]string),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
		failures: make(map[string]error),
	}
	m.addTree(rootID, nodes)
	return m
}

func (m *MemoryLister) addTree(parentID string, nodes []TreeNode) {
	for _, n := range nodes {
		m.AddFolder(parentID, n.ID, n.Name)
		m.addTree(n.ID, n.Children)
	}
}

// LoadMemoryLister decodes a JSON TreeNode whose id is the root folder.
func LoadMemoryLister(r io.Reader) (*MemoryLister, string, error) {
	var root TreeNode
	if err := json.NewDecoder(r).Decode(&root); err != nil {
		return nil, "", fmt.Errorf("decode folder tree: %w", err)
	}
	if root.ID == "" {
		return nil, "", fmt.Errorf("decode folder tree: root id is empty")
	}
	return NewMemoryLister(root.ID, root.Children), root.ID, nil
}

// AddFolder places folder id under parentID. Adding an existing id under a
// second parent gives it multiple parents.
func (m *MemoryLister) AddFolder(parentID, id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[id] = name
	m.parents[id] = append(m.parents[id], parentID)
	m.children[parentID] = append(m.children[parentID], id)
}

// SetPageSize splits listings into pages of n folders. Zero disables paging.
func (m *MemoryLister) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// Fail makes every listing of parentID fail with err. A nil err clears it.
func (m *MemoryLister) Fail(parentID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, parentID)
		return
	}
	m.failures[parentID] = err
}

// Calls returns the parent ids of every page request, in order.
func (m *MemoryLister) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns the number of page requests served.
func (m *MemoryLister) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ResetCalls forgets recorded page requests.
func (m *MemoryLister) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// ListChildren implements Lister.
func (m *MemoryLister) ListChildren(ctx context.Context, parentID, pageToken string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, parentID)

	if err := m.failures[parentID]; err != nil {
		return Page{}, err
	}

	ids := m.children[parentID]
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(ids) {
			return Page{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		start = n
	}
	end := len(ids)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	page := Page{Folders: make([]FolderRecord, 0, end-start)}
	for _, id := range ids[start:end] {
		page.Folders = append(page.Folders, FolderRecord{
			ID:        id,
			Name:      m.names[id],
			ParentIDs: append([]string(nil), m.parents[id]...),
		})
	}
	if end < len(ids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}
