package mysql

import "devicefarm/pkg/config"

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	Utilization *UtilizationRepository
	Session     *SessionRepository
}

// NewRepository connects to MySQL and creates all sub-repositories
func NewRepository(cfg config.MySQLConfig) (*Repository, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}

	return &Repository{
		ds:          ds,
		Utilization: NewUtilizationRepository(ds),
		Session:     NewSessionRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
