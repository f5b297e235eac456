// Package password implements the slow password-hashing capability used by the
// email/password login flow: Argon2id with PHC-formatted output and
// constant-time verification. The engine treats this package as a sealed
// primitive; nothing else in the module touches raw passwords.
package password
