package relay

// relay delivers one prepared email message to a mail relay. It picks the
// wire transport (LMTP over a socket path or host, or SMTP with optional
// implicit TLS or STARTTLS), authenticates when credentials are configured,
// fills in a fallback sender and always releases the connection, whatever
// happened during the delivery. It doesn't build messages. Anything that
// satisfies Message can be sent.
