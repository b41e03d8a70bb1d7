package postman

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Collection is the root of the recorded collection tree.
type Collection struct {
	ID          string
	Name        string
	Description string

	requests []*Request
	folders  []*Folder
}

func NewCollection(newID IDFunc, name, description string) *Collection {
	return &Collection{ID: newID(), Name: name, Description: description}
}

// AddRequest appends an ungrouped request.
func (c *Collection) AddRequest(r *Request) {
	c.requests = append(c.requests, r)
}

// AddFolder attaches f to the collection.
func (c *Collection) AddFolder(f *Folder) {
	f.collectionID = c.ID
	c.folders = append(c.folders, f)
}

// Folders returns the folders in insertion order.
func (c *Collection) Folders() []*Folder {
	return c.folders
}

type ownedRequest struct {
	req   *Request
	owner Owner
}

// allOwned flattens ungrouped and foldered requests with their owner
// refs, sorted by request id.
func (c *Collection) allOwned() []ownedRequest {
	all := make([]ownedRequest, 0, len(c.requests))
	for _, r := range c.requests {
		all = append(all, ownedRequest{req: r, owner: Owner{CollectionID: c.ID}})
	}
	for _, f := range c.folders {
		for _, r := range f.requests {
			all = append(all, ownedRequest{req: r, owner: Owner{CollectionID: c.ID, FolderID: f.ID}})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].req.ID < all[j].req.ID })
	return all
}

// AllRequests returns every request in the collection, ungrouped and
// foldered, sorted by request id. Insertion order is visible only in
// the order arrays, not here.
func (c *Collection) AllRequests() []*Request {
	owned := c.allOwned()
	all := make([]*Request, 0, len(owned))
	for _, o := range owned {
		all = append(all, o.req)
	}
	return all
}

// Document is the serialized collection.
type Document struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Order       []string          `json:"order"`
	Folders     []FolderDocument  `json:"folders"`
	Requests    []RequestDocument `json:"requests"`
}

// Serialize renders the whole collection. Order holds ungrouped request
// ids in append order, folders are sorted by folder id, and requests
// holds every request sorted by request id. Empty arrays render as [],
// never null.
func (c *Collection) Serialize() Document {
	doc := Document{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Order:       make([]string, 0, len(c.requests)),
	}
	for _, r := range c.requests {
		doc.Order = append(doc.Order, r.ID)
	}
	folders := append([]*Folder(nil), c.folders...)
	sort.Slice(folders, func(i, j int) bool { return folders[i].ID < folders[j].ID })
	doc.Folders = make([]FolderDocument, 0, len(folders))
	for _, f := range folders {
		doc.Folders = append(doc.Folders, f.Serialize())
	}
	owned := c.allOwned()
	doc.Requests = make([]RequestDocument, 0, len(owned))
	for _, o := range owned {
		doc.Requests = append(doc.Requests, o.req.Serialize(o.owner))
	}
	return doc
}

// WriteJSON writes the document to w with the collection file settings.
func (c *Collection) WriteJSON(w io.Writer) error {
	return newEncoder(w).Encode(c.Serialize())
}

// Filename is the on-disk file name, "<collection name>.json". The
// name is used verbatim.
func (c *Collection) Filename() string {
	return c.Name + ".json"
}

// SaveFile writes the collection into dir, replacing any previous
// version. The document goes through a temp file in the target
// directory and a rename, so an interrupted write never leaves a torn
// collection behind.
func (c *Collection) SaveFile(dir string) error {
	target := filepath.Join(dir, c.Filename())
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("creating collection file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := c.WriteJSON(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing collection %q: %w", c.Name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replacing collection file: %w", err)
	}
	return nil
}
