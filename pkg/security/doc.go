/*
Package security groups the transport security used by the proxy server.

Subpackage tls builds the HTTPS listener configuration and reloads the
server certificate from disk when it is renewed. Client access control is
the shared-secret gate in package proxy.
*/
package security
