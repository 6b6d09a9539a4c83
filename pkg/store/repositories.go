package store

// Repositories bundles the per-table repositories over one connection, so
// constructors take a single dependency instead of six.
type Repositories struct {
	Mappings   MappingRepository
	State      StateRepository
	Activities ActivityRepository
	Issues     IssueRepository
	Changes    ChangeRepository
	Reports    ReportRepository
}

// NewRepositories creates the full repository set.
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Mappings:   NewMappingRepository(db),
		State:      NewStateRepository(db),
		Activities: NewActivityRepository(db),
		Issues:     NewIssueRepository(db),
		Changes:    NewChangeRepository(db),
		Reports:    NewReportRepository(db),
	}
}
