package erlangrt

func Fuzz(data []byte) int {
	cs := NewCodeServer()
	_, err := cs.LoadBytes(data, &Options{})
	if err != nil {
		return 0
	}
	return 1
}
