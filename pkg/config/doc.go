// Package config builds teltubby's immutable process configuration from
// environment variables. Load is called exactly once at startup in each
// binary's main(); the resulting Config is threaded explicitly into every
// collaborator's constructor and never re-read — there is no global mutable
// config anywhere in the tree.
//
// Bounded fields are clamped at load time (Concurrency to [1, 32]); this is
// the only place configuration is validated.
package config
