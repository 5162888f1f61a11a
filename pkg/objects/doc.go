// Package objects resolves and invokes the business objects that remote
// calls are dispatched against.
//
// Every session owns one life-cycle object, created lazily from the class
// configured for its application. Every application may own one shared
// object that session objects are linked to as their parent unless their
// class is isolated.
//
// Objects expose children and methods through explicit dispatch tables
// built once per type with Define, through the Resolvable interface, or as
// plain maps. Dotted paths such as "orders.open.count" are resolved left to
// right with an access check on every segment.
package objects
