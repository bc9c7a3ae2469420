// Package fsstore is a filesystem record source and sink.
//
// Records live one directory per record:
//
//	<root>/<type>/<id>/sys.xml
//	<root>/<type>/<id>/app.xml     (optional)
//	<root>/<type>/<id>/payload
//
// A Source serves the record directories of one record type in name
// order and drops a .synced marker into each record the Subscriber
// confirmed. A Sink writes incoming records under
// <root>/<publisher>/<type>/.partial/<id> and moves them next to their
// siblings once the digest is confirmed. A partial journal payload left
// behind by a broken connection is offered for resume.
package fsstore
