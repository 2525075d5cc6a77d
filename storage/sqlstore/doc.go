// Package sqlstore implements core.StorageAdapter on database/sql for
// sqlite3, postgres and mysql.
//
//	store, err := sqlstore.Open(ctx, "sqlite", "file:sessions.db")
//	if err != nil {
//		return err
//	}
//	agent, err := agent.New(model, func(o *agent.Options) { o.Storage = store })
package sqlstore
