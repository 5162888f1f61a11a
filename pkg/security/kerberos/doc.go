// Package kerberos provides the "kerberos" security manager. It validates a
// session's user name and password by logging in to the realm's KDC and,
// when a keytab is configured, by requesting and decrypting a service
// ticket for the server principal.
//
// The keytab is polled for changes and swapped atomically so key rotation
// does not require a restart.
package kerberos
