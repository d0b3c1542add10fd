// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lexicon

// stopWords is the fixed German/English stop-list applied after lowercasing
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// German
		"der", "die", "das", "den", "dem", "des", "ein", "eine", "einer", "eines", "einem", "einen",
		"und", "oder", "aber", "doch", "denn", "ist", "sind", "war", "waren", "bin", "bist", "sein",
		"hat", "haben", "hatte", "wird", "werden", "wurde", "kann", "können", "muss", "soll", "will",
		"ich", "du", "er", "sie", "es", "wir", "ihr", "mich", "dich", "sich", "mir", "dir", "uns", "euch",
		"mein", "dein", "sein", "unser", "euer", "nicht", "kein", "keine", "auch", "noch", "schon", "nur",
		"mit", "von", "für", "auf", "aus", "bei", "nach", "vor", "über", "unter", "zum", "zur", "im", "am",
		"um", "an", "in", "zu", "so", "wie", "was", "wer", "wo", "wann", "warum", "dass", "wenn", "als",
		"mal", "ja", "nein", "hier", "dort", "jetzt", "dann", "sehr", "mehr", "alle", "alles", "diese",
		"dieser", "dieses", "man", "da",
		// English
		"the", "a", "an", "and", "or", "but", "is", "are", "was", "were", "be", "been", "being", "am",
		"have", "has", "had", "do", "does", "did", "will", "would", "can", "could", "should", "shall",
		"i", "you", "he", "she", "it", "we", "they", "me", "him", "her", "us", "them", "my", "your",
		"his", "its", "our", "their", "this", "that", "these", "those", "not", "no", "yes", "so",
		"to", "of", "in", "on", "at", "by", "for", "with", "from", "about", "into", "over", "just",
		"what", "who", "where", "when", "why", "how", "all", "any", "some", "than", "then", "there",
		"here", "very", "too", "also", "only", "if", "as", "out", "up",
	} {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether a lowercased token is on the stop-list
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}
