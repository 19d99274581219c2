// Package domain models earthquakes reported in the KOERI (Kandilli
// Observatory) "recent earthquakes" bulletin.
//
// # Data Source
//
// The bulletin is published at http://www.koeri.boun.edu.tr/scripts/lst0.asp
// as an HTML page whose data block sits inside a single <pre> element. The
// adapter in internal/adapter/kandilli fetches the page and hands the <pre>
// text to [ParseBulletin].
//
// # Bulletin Conventions
//
// Header:
//
//	The first seven lines of the block are titles, column headings and a
//	dashed rule. They are skipped unconditionally.
//
// Row format (whitespace separated):
//
//	2024.08.20 14:30:15  39.1230   27.5670   8.7   -.-  4.2  -.-   IZMIR-SEFERIHISAR (AEGEAN SEA)   İlksel
//	date       time      lat       lon       depth MD   ML   Mw    region ...
//
//	Three magnitude scales (MD, ML, Mw) are printed per row. Usually only one
//	is populated; the rest carry the "-.-" placeholder.
//
// Time:
//
//	Local civil time of the observatory. No timezone conversion is applied;
//	values are held in a time.Time with the UTC location as a neutral carrier.
//
// Rows are listed newest first.
//
// # Magnitude Column
//
// The magnitude is the first token from column 5 onward that parses as a
// decimal within [0.1, 10.0]. The region text starts two columns after the
// chosen magnitude. See [ParseLine].
//
// # ID Generation
//
// IDs are "YYYYMMDD_HHMMSS_<lat>_<lon>_<mag>" with coordinates at three
// decimals. Parsing the same row twice always yields the same ID, which makes
// the ID the idempotency key for the posted-earthquake store.
package domain
