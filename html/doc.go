package html

// html turns the HTML body of an email into the text/plain alternative that
// goes out next to it. It doesn't send anything and doesn't care where the
// HTML came from.
