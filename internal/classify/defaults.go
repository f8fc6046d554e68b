package classify

func words(body string) string { return `(?i)\b(?:` + body + `)\b` }

// DefaultPatterns are used for topics with no configured patterns.
var DefaultPatterns = map[string][]string{
	"daily_life_tips": {
		words(`tip|hack|advice|guide|how\s+to|life\s+hack|helpful|useful`),
		words(`easy|simple|quick|efficient|better|improve`),
		words(`everyday|daily|routine|habit|lifestyle`),
	},
	"cooking_techniques": {
		words(`cook|recipe|bake|fry|boil|steam|grill|roast|saute|simmer`),
		words(`technique|method|preparation|ingredient|seasoning`),
		words(`kitchen|culinary|chef|cooking|food`),
	},
	"home_care": {
		words(`clean|maintain|repair|organize|home|house|household`),
		words(`maintenance|upkeep|care|preservation|storage`),
		words(`furniture|appliance|room|space|interior`),
	},
	"object_usage_and_actions": {
		words(`use|operate|handle|manipulate|tool|device|gadget`),
		words(`function|purpose|application|utility|operation`),
		words(`instructions|manual|guide|directions`),
	},
	"personal_care": {
		words(`hygiene|grooming|health|wellness|self-care|skincare`),
		words(`beauty|cosmetic|personal|body|face|hair`),
		words(`routine|regimen|treatment|care|maintenance`),
	},
	"healthy_alternatives": {
		words(`healthy|alternative|substitute|natural|organic|wholesome`),
		words(`nutrition|nutritious|diet|wellness|health`),
		words(`replace|swap|instead|better|healthier`),
	},
	"cleaning_techniques": {
		words(`clean|wash|scrub|sanitize|disinfect|polish|wipe`),
		words(`cleaning|cleaner|detergent|soap|solution`),
		words(`stain|dirt|grime|mess|spot|residue`),
	},
	"object_placement": {
		words(`organize|arrange|place|position|store|storage`),
		words(`organization|arrangement|placement|layout|setup`),
		words(`shelf|cabinet|drawer|container|space`),
	},
	"food_handling": {
		words(`food\s+safety|handling|storage|preparation|preservation`),
		words(`fresh|spoilage|expiration|contamination|hygiene`),
		words(`refrigerate|freeze|store|keep|maintain`),
	},
	"crafting_and_diy": {
		words(`craft|diy|make|create|build|handmade|homemade`),
		words(`project|tutorial|instructions|materials|supplies`),
		words(`creative|artistic|design|decoration|decor`),
	},
	"odor_removal": {
		words(`odor|smell|deodorize|freshen|eliminate|neutralize`),
		words(`fragrance|scent|aroma|air\s+freshener|perfume`),
	},
	"food_preservation": {
		words(`preserve|store|freeze|can|pickle|dry|cure`),
		words(`preservation|storage|shelf\s+life|expiration`),
	},
	"object_modification": {
		words(`modify|alter|customize|adapt|change|transform`),
		words(`modification|alteration|customization|upgrade`),
	},
	"object_storage": {
		words(`store|storage|organize|container|shelf|cabinet`),
		words(`organization|arrangement|space|room|closet`),
	},
	"object_shapes_and_functions": {
		words(`shape|function|purpose|design|form|structure`),
		words(`geometry|dimension|size|appearance|feature`),
	},
	"food_allergy_substitutions": {
		words(`allergy|substitute|alternative|replace|intolerance`),
		words(`gluten-free|dairy-free|nut-free|vegan|substitution`),
	},
	"personal_hygiene": {
		words(`hygiene|wash|brush|shower|clean|bathe`),
		words(`dental|oral|body|personal|cleanliness`),
	},
	"carrying_objects": {
		words(`carry|transport|move|lift|handle|grip`),
		words(`bag|container|holder|carrier|support`),
	},
	"food_preparation": {
		words(`prep|prepare|chop|slice|mix|blend|combine`),
		words(`preparation|cooking|kitchen|ingredient|recipe`),
	},
	"healthy_drinks": {
		words(`drink|beverage|smoothie|juice|tea|water|healthy`),
		words(`hydration|nutrition|vitamin|antioxidant|wellness`),
	},
	"food_seasoning": {
		words(`season|spice|flavor|salt|pepper|herb|seasoning`),
		words(`taste|flavoring|condiment|marinade|sauce`),
	},
	"reasoning_about_object_functions": {
		words(`function|purpose|why|how|reason|logic|analysis`),
		words(`understanding|explanation|rationale|principle`),
	},
}

// DefaultSubdomains maps a topic to its finer-grained subdomain.
var DefaultSubdomains = map[string]string{
	"daily_life_tips":                  "general_tips",
	"cooking_techniques":               "culinary_skills",
	"home_care":                        "household_maintenance",
	"object_usage_and_actions":         "tool_usage",
	"personal_care":                    "self_maintenance",
	"healthy_alternatives":             "health_choices",
	"cleaning_techniques":              "sanitation_methods",
	"object_placement":                 "organization_systems",
	"food_handling":                    "food_safety",
	"crafting_and_diy":                 "creative_projects",
	"odor_removal":                     "scent_management",
	"food_preservation":                "food_storage",
	"object_modification":              "item_customization",
	"object_storage":                   "storage_solutions",
	"object_shapes_and_functions":      "design_analysis",
	"food_allergy_substitutions":       "dietary_alternatives",
	"personal_hygiene":                 "cleanliness_practices",
	"carrying_objects":                 "transport_methods",
	"food_preparation":                 "cooking_prep",
	"healthy_drinks":                   "beverage_wellness",
	"food_seasoning":                   "flavor_enhancement",
	"reasoning_about_object_functions": "functional_analysis",
}

// DefaultExclusions reject off-topic content outright.
var DefaultExclusions = []string{
	words(`news|politics|election|government|war|violence`),
	words(`celebrity|gossip|entertainment|movie|tv\s+show`),
	words(`sports|game|match|tournament|league`),
	words(`investment|stock|crypto|finance|money|business`),
	words(`medical|diagnosis|treatment|prescription|drug`),
	words(`legal|law|court|lawsuit|attorney`),
}

var promoPatterns = []string{
	words(`buy|purchase|order|sale|discount|offer|deal`),
	words(`click|visit|website|link|url|www`),
	words(`affiliate|sponsored|advertisement|promo`),
}
