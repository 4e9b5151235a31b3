// Package policy screens user input before planning.
//
// The gate is a coarse, pattern-based filter. It catches obvious misuse
// (hacking, weapons, self-harm, credential theft) and names the category and
// matched text in its reason. It is not a classifier: paraphrases slip past it
// and benign text containing a listed word is blocked.
package policy
