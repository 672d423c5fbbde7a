// Package adjust rescales daily price and volume history for stock splits.
//
// Each security's splits known as of a knowledge date are folded into a
// Schedule: a step function giving, for any pricing date, the product of
// the factors of every split that took effect after that date. Prices are
// divided by that factor and volumes multiplied by it, so the whole series
// is expressed in today's share count.
package adjust
