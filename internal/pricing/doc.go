// Package pricing runs the pricing phase automaton for published books.
//
// The automaton moves LAUNCH → GROWTH → MATURE as days since publication and
// review counts cross their thresholds, and cycles MATURE → PROMO → MATURE for
// scheduled countdown promotions. BUNDLE is set only by an operator. Every
// move appends one price_history row in the same transaction that advances
// the strategy's version, so concurrent sweeps never double-apply a step.
package pricing
