// Package customersync holds the domain model for moving customer records
// from the i95Dev integration platform into Business Central.
//
// The package is transport-free: it defines the records exchanged with both
// systems, the pure RecordMapper that turns a pulled record into a customer
// create request, the correlation index used when acknowledging results, the
// error taxonomy, and the ports implemented by the infrastructure layer.
package customersync
