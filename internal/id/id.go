package id

import "github.com/google/uuid"

func New() string {
	return uuid.NewString()
}

// Handle returns an opaque blob handle URL, e.g. "blob:wardrobe/<uuid>".
func Handle(scope string) string {
	if scope == "" {
		scope = "local"
	}
	return "blob:" + scope + "/" + New()
}
