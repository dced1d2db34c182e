/*
Package logging provides structured logging built on zerolog.

Init configures the global Logger once at process startup; every other
package derives a child logger from it (WithComponent, WithComputer,
WithReservation) rather than constructing its own. JSON output is used
in production; console output with a timestamp prefix is used otherwise.
*/
package logging
