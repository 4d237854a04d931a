/*
Package types holds the shared data model: journal and queued events, SKU
state, batch records moving through the admin lifecycle, job handles, run
results and statistics. It depends on nothing else in the module so every
package can import it.
*/
package types
