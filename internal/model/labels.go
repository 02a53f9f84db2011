package model

// DefaultLabels are the UrbanSound8K classes in model output order.
var DefaultLabels = []string{
	"air_conditioner",
	"car_horn",
	"children_playing",
	"dog_bark",
	"drilling",
	"engine_idling",
	"gun_shot",
	"jackhammer",
	"siren",
	"street_music",
}

// Labels returns a copy of DefaultLabels.
func Labels() []string {
	return append([]string(nil), DefaultLabels...)
}
