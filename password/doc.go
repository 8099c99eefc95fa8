// Package password provides argon2id password hashing with PHC-encoded
// records and constant-time verification. Each hash carries its own salt
// and parameters, so records remain verifiable after config changes.
package password
