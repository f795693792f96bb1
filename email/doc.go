package email

// email submits HTML messages to a local SMTP server, usually the MTA on
// localhost:25 that signs and relays them. It connects, negotiates TLS and
// authentication, builds a MIME message and runs one SMTP transaction per
// call. It doesn't retry, queue, or check addresses: failures go back to
// the caller as a *TransportError after being logged once.
