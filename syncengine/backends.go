package syncengine

import "github.com/docvault/ingestd/sourceclient"

// sourceFactory is the slice of sourceclient.Factory an Engine needs,
// narrowed to an interface so tests can fake backend resolution without
// constructing real WebDAV/S3/LocalFolder clients.
type sourceFactory interface {
	Backend(src sourceclient.SourceRef) (sourceclient.Backend, error)
}

// DefaultBackends adapts a *sourceclient.Factory to this package's
// BackendFactory, translating Source into the narrower SourceRef
// sourceclient depends on (sourceclient cannot import syncengine.Source
// directly without an import cycle, since syncengine already imports
// sourceclient for Backend/Entry).
type DefaultBackends struct {
	factory sourceFactory
}

// NewDefaultBackends wraps factory for use as an Engine's BackendFactory.
func NewDefaultBackends(factory *sourceclient.Factory) *DefaultBackends {
	return &DefaultBackends{factory: factory}
}

// Backend implements BackendFactory.
func (d *DefaultBackends) Backend(src Source) (sourceclient.Backend, error) {
	return d.factory.Backend(sourceclient.SourceRef{
		ID:     src.ID.String(),
		Name:   src.Name,
		Type:   string(src.Type),
		Config: src.Config,
	})
}
