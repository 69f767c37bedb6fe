package agency

// Governorates lists the 24 Tunisian governorates, the default delivery
// regions of the built-in agencies.
var Governorates = []string{
	"Ariana", "Béja", "Ben Arous", "Bizerte", "Gabès", "Gafsa",
	"Jendouba", "Kairouan", "Kasserine", "Kébili", "Le Kef", "Mahdia",
	"La Manouba", "Médenine", "Monastir", "Nabeul", "Sfax", "Sidi Bouzid",
	"Siliana", "Sousse", "Tataouine", "Tozeur", "Tunis", "Zaghouan",
}
