package postman

import "errors"

// ErrDetached is returned when a folder is asked for its collection
// before being attached to one.
var ErrDetached = errors.New("postman: folder not attached to a collection")

// Folder groups requests that share a first path segment.
type Folder struct {
	ID   string
	Name string

	requests     []*Request
	collectionID string
}

func NewFolder(newID IDFunc, name string) *Folder {
	return &Folder{ID: newID(), Name: name}
}

// AddRequest appends r to the folder. A request belongs to exactly one
// owner; callers route it either here or to the collection directly.
func (f *Folder) AddRequest(r *Request) {
	f.requests = append(f.requests, r)
}

// Requests returns the member requests in insertion order.
func (f *Folder) Requests() []*Request {
	return f.requests
}

// CollectionID reports the owning collection id, or ErrDetached.
func (f *Folder) CollectionID() (string, error) {
	if f.collectionID == "" {
		return "", ErrDetached
	}
	return f.collectionID, nil
}

// FolderDocument is the folder stub inside the collection document.
// Member requests appear only as ids; their bodies live in the
// collection's flat requests array.
type FolderDocument struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Order []string `json:"order"`
}

// Serialize renders the stub with member ids in insertion order.
func (f *Folder) Serialize() FolderDocument {
	order := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		order = append(order, r.ID)
	}
	return FolderDocument{ID: f.ID, Name: f.Name, Order: order}
}
