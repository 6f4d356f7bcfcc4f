package attachment

import "strconv"

// F24 slot names, in processing order.
const (
	SlotFlatRate = "flatRate"
	SlotDigital  = "digital"
	SlotAnalog   = "analog"
)

const preloadPrefix = "preload/"

// PreloadKey is where a sender's pre-uploaded object lives before promotion.
func PreloadKey(paID, key string) string {
	return preloadPrefix + paID + "/" + key
}

// DocumentKey is the stored key of the i-th document of a notification.
func DocumentKey(iun string, i int) string {
	return iun + "/documents/" + strconv.Itoa(i)
}

// F24Key is the stored key of an F24 slot of a notification.
func F24Key(iun, slot string) string {
	return iun + "/f24/" + slot
}
