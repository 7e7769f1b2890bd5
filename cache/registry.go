package cache

import (
	"sort"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Tag groups cached reads so one invalidation expires every read derived
// from a category of writes.
type Tag string

const (
	TagPosts            Tag = "posts"
	TagNotes            Tag = "notes"
	TagBookmarks        Tag = "bookmarks"
	TagComments         Tag = "comments"
	TagPostInteractions Tag = "postinteractions"
	TagNoteInteractions Tag = "noteinteractions"
	TagUsers            Tag = "users"
	TagTags             Tag = "tags"
)

// Operation names a write whose result can be observed through cached reads.
type Operation string

const (
	OpRecordPostInteraction Operation = "post.interaction.record"
	OpRecordNoteInteraction Operation = "note.interaction.record"
	OpReconcilePost         Operation = "post.reconcile"
	OpReconcileNote         Operation = "note.reconcile"
	OpCreateBookmark        Operation = "bookmark.create"
	OpDeleteBookmark        Operation = "bookmark.delete"
	OpCreateComment         Operation = "comment.create"
	OpDeleteComment         Operation = "comment.delete"
	OpCountPostComments     Operation = "post.comments.count"
	OpCountNoteComments     Operation = "note.comments.count"
	OpWritePost             Operation = "post.write"
	OpWriteNote             Operation = "note.write"
	OpWriteTag              Operation = "tag.write"
	OpCreateUser            Operation = "user.create"
)

// comment counts live on the post aggregate, so comment writes touch posts
var defaultMapping = map[Operation][]Tag{
	OpRecordPostInteraction: {TagPostInteractions, TagPosts},
	OpRecordNoteInteraction: {TagNoteInteractions, TagNotes},
	OpReconcilePost:         {TagPosts},
	OpReconcileNote:         {TagNotes},
	OpCreateBookmark:        {TagBookmarks},
	OpDeleteBookmark:        {TagBookmarks},
	OpCreateComment:         {TagComments, TagPosts},
	OpDeleteComment:         {TagComments, TagPosts},
	OpCountPostComments:     {TagComments, TagPosts},
	OpCountNoteComments:     {TagComments, TagNotes},
	OpWritePost:             {TagPosts, TagTags},
	OpWriteNote:             {TagNotes, TagTags},
	OpWriteTag:              {TagTags, TagPosts, TagNotes},
	OpCreateUser:            {TagUsers},
}

// ErrUnknownOperation is returned for writes with no registered tag set.
// Callers must treat it as a failed write.
var ErrUnknownOperation = goerrors.New("unknown cache operation", goerrors.CategoryInternal).
	WithTextCode("UNKNOWN_CACHE_OPERATION")

// Registry maps write operations to the tags they invalidate.
type Registry struct {
	mu  sync.RWMutex
	ops map[Operation][]Tag
}

// NewRegistry returns a registry loaded with the default mapping.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[Operation][]Tag, len(defaultMapping))}
	for op, tags := range defaultMapping {
		r.ops[op] = append([]Tag(nil), tags...)
	}
	return r
}

// Register adds or replaces the tag set of op
func (r *Registry) Register(op Operation, tags ...Tag) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op] = append([]Tag(nil), tags...)
	return r
}

// TagsAffectedBy returns the sorted, de-duplicated tags of op.
func (r *Registry) TagsAffectedBy(op Operation) ([]Tag, error) {
	r.mu.RLock()
	tags, ok := r.ops[op]
	r.mu.RUnlock()

	if !ok {
		clone := ErrUnknownOperation.Clone()
		return nil, clone.WithMetadata(map[string]any{"operation": string(op)})
	}

	return normalizeTags(tags), nil
}

// Operations lists every registered operation
func (r *Registry) Operations() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Operation, 0, len(r.ops))
	for op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeTags(tags []Tag) []Tag {
	seen := make(map[Tag]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
